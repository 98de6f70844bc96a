package img_uploaders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"os"
	"strconv"
	"sync"

	"github.com/PuerkitoBio/goquery"
	http "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
)

const imgboxUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/136.0.0.0 Safari/537.36"

// ImgboxService uploads to imgbox.com anonymously. The CSRF token and the
// upload token pair are scraped once, on the first upload.
type ImgboxService struct {
	thumbSize func() int
	client    tls_client.HttpClient

	mu          sync.Mutex
	csrfToken   string
	tokenID     string
	tokenSecret string
}

func NewImgboxService(thumbSize func() int) (*ImgboxService, error) {
	jar := tls_client.NewCookieJar()
	options := []tls_client.HttpClientOption{
		tls_client.WithTimeoutSeconds(60),
		tls_client.WithClientProfile(profiles.Chrome_120),
		tls_client.WithNotFollowRedirects(),
		tls_client.WithCookieJar(jar),
	}

	client, err := tls_client.NewHttpClient(tls_client.NewNoopLogger(), options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create TLS client: %v", err)
	}

	return &ImgboxService{thumbSize: thumbSize, client: client}, nil
}

// ensureTokens fetches the CSRF token from the homepage, then generates the
// upload token pair. Runs once per service.
func (i *ImgboxService) ensureTokens(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.tokenID != "" && i.tokenSecret != "" {
		return nil
	}

	req, err := http.NewRequest(http.MethodGet, "https://imgbox.com/", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %v", err)
	}

	req.Header = http.Header{
		"accept":                    {"text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7"},
		"accept-language":           {"en-US,en;q=0.9"},
		"connection":                {"keep-alive"},
		"host":                      {"imgbox.com"},
		"sec-ch-ua":                 {`"Chromium";v="136", "Google Chrome";v="136", "Not.A/Brand";v="99"`},
		"sec-ch-ua-mobile":          {"?0"},
		"sec-ch-ua-platform":        {`"Windows"`},
		"sec-fetch-dest":            {"document"},
		"sec-fetch-mode":            {"navigate"},
		"sec-fetch-site":            {"none"},
		"sec-fetch-user":            {"?1"},
		"upgrade-insecure-requests": {"1"},
		"user-agent":                {imgboxUserAgent},
		http.HeaderOrderKey: {
			"accept",
			"accept-language",
			"connection",
			"host",
			"sec-ch-ua",
			"sec-ch-ua-mobile",
			"sec-ch-ua-platform",
			"sec-fetch-dest",
			"sec-fetch-mode",
			"sec-fetch-site",
			"sec-fetch-user",
			"upgrade-insecure-requests",
			"user-agent",
		},
	}

	resp, err := i.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("request cancelled: %v", ctx.Err())
		}
		return fmt.Errorf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return fmt.Errorf("imgbox returned status code %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to parse HTML: %v", err)
	}

	csrfToken, exists := doc.Find(`input[name="authenticity_token"]`).Attr("value")
	if !exists || csrfToken == "" {
		return fmt.Errorf("CSRF token not found")
	}
	i.csrfToken = csrfToken

	req, err = http.NewRequest(http.MethodPost, "https://imgbox.com/ajax/token/generate", nil)
	if err != nil {
		return fmt.Errorf("failed to create token request: %v", err)
	}

	req.Header = http.Header{
		"x-csrf-token": {i.csrfToken},
		"content-type": {"application/x-www-form-urlencoded"},
		"user-agent":   {imgboxUserAgent},
		"accept":       {"*/*"},
		"origin":       {"https://imgbox.com"},
		"referer":      {"https://imgbox.com/"},
		http.HeaderOrderKey: {
			"accept",
			"content-type",
			"origin",
			"referer",
			"user-agent",
			"x-csrf-token",
		},
	}

	resp, err = i.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("token request cancelled: %v", ctx.Err())
		}
		return fmt.Errorf("token request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return fmt.Errorf("token generation failed with status code %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read token response: %v", err)
	}

	// token_id arrives as a string or a number depending on server mood
	var tokenResponse struct {
		TokenID     json.Number `json:"token_id"`
		TokenSecret string      `json:"token_secret"`
	}
	if err := json.Unmarshal(body, &tokenResponse); err != nil {
		return fmt.Errorf("failed to parse token JSON: %v", err)
	}

	if tokenResponse.TokenID.String() == "" || tokenResponse.TokenSecret == "" {
		return fmt.Errorf("incomplete token response")
	}

	i.tokenID = tokenResponse.TokenID.String()
	i.tokenSecret = tokenResponse.TokenSecret

	log.Printf("Obtained imgbox upload tokens")
	return nil
}

func (i *ImgboxService) Upload(ctx context.Context, filePath string) (*UploadResult, error) {
	fileName, err := validateImageFile(filePath)
	if err != nil {
		return nil, err
	}

	if err := i.ensureTokens(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize tokens: %v", err)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %v", err)
	}
	defer file.Close()

	var buffer bytes.Buffer
	writer := multipart.NewWriter(&buffer)

	fields := map[string]string{
		"token_id":         i.tokenID,
		"token_secret":     i.tokenSecret,
		"content_type":     "2",
		"thumbnail_size":   strconv.Itoa(i.thumbSize()) + "r",
		"gallery_id":       "null",
		"gallery_secret":   "null",
		"comments_enabled": "null",
	}

	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, fmt.Errorf("failed to write form field %s: %v", key, err)
		}
	}

	part, err := writer.CreateFormFile("files[]", fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %v", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("failed to copy file data: %v", err)
	}
	writer.Close()

	req, err := http.NewRequest(http.MethodPost, "https://imgbox.com/upload/process", &buffer)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload request: %v", err)
	}

	req.Header = http.Header{
		"content-type": {writer.FormDataContentType()},
		"user-agent":   {imgboxUserAgent},
		"accept":       {"*/*"},
		"origin":       {"https://imgbox.com"},
		"referer":      {"https://imgbox.com/"},
		http.HeaderOrderKey: {
			"accept",
			"content-type",
			"origin",
			"referer",
			"user-agent",
		},
	}

	resp, err := i.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("upload cancelled: %v", ctx.Err())
		}
		return nil, fmt.Errorf("upload request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload response: %v", err)
	}

	var respJSON struct {
		Files []struct {
			URL          string `json:"url"`
			OriginalURL  string `json:"original_url"`
			ThumbnailURL string `json:"thumbnail_url"`
		} `json:"files"`
	}
	if err := json.Unmarshal(body, &respJSON); err != nil {
		return nil, fmt.Errorf("failed to parse upload JSON: %v", err)
	}
	if len(respJSON.Files) == 0 {
		return nil, fmt.Errorf("no files in upload response")
	}

	uploaded := respJSON.Files[0]
	result := &UploadResult{
		BBThumb: fmt.Sprintf("[URL=%s][IMG]%s[/IMG][/URL]", uploaded.URL, uploaded.ThumbnailURL),
		BBBig:   fmt.Sprintf("[URL=%s][IMG]%s[/IMG][/URL]", uploaded.URL, uploaded.OriginalURL),
	}

	log.Printf("Imgbox upload completed: %s", fileName)
	return result, nil
}
