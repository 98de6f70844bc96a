package img_uploaders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"time"

	http "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
)

const hamsterUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/139.0.0.0 Safari/537.36"

// auth token lives in a JS assignment on the homepage:
// PF.obj.config.auth_token = "...";
var hamsterAuthTokenRe = regexp.MustCompile(`PF\.obj\.config\.auth_token\s*=\s*"([^"]+)"`)

// HamsterService uploads to hamster.is. Credentials are read from settings
// at login time; login happens lazily on the first upload.
type HamsterService struct {
	credentials func() (email, password string)
	client      tls_client.HttpClient

	mu        sync.Mutex
	authToken string
	loggedIn  bool
}

func NewHamsterService(credentials func() (email, password string)) (*HamsterService, error) {
	jar := tls_client.NewCookieJar()
	options := []tls_client.HttpClientOption{
		tls_client.WithTimeoutSeconds(60),
		tls_client.WithClientProfile(profiles.Chrome_120),
		tls_client.WithCookieJar(jar),
	}

	client, err := tls_client.NewHttpClient(tls_client.NewNoopLogger(), options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create TLS client: %v", err)
	}

	return &HamsterService{credentials: credentials, client: client}, nil
}

// Login authenticates with hamster.is. Safe to call repeatedly; it is a
// no-op once a session is established.
func (h *HamsterService) Login(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loginLocked(ctx)
}

func (h *HamsterService) loginLocked(ctx context.Context) error {
	if h.loggedIn {
		return nil
	}

	email, password := h.credentials()
	if email == "" || password == "" {
		return fmt.Errorf("hamster credentials are not configured")
	}

	req, err := http.NewRequest(http.MethodGet, "https://hamster.is/", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %v", err)
	}

	req.Header = http.Header{
		"accept":          {"text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8"},
		"accept-encoding": {"gzip, deflate, br, zstd"},
		"connection":      {"keep-alive"},
		"user-agent":      {hamsterUserAgent},
		http.HeaderOrderKey: {
			"accept",
			"accept-encoding",
			"connection",
			"user-agent",
		},
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("request cancelled: %v", ctx.Err())
		}
		return fmt.Errorf("failed to load hamster.is homepage: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return fmt.Errorf("hamster.is returned status code %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read homepage response: %v", err)
	}

	matches := hamsterAuthTokenRe.FindStringSubmatch(string(body))
	if len(matches) < 2 {
		return fmt.Errorf("auth token not found in page")
	}
	h.authToken = matches[1]

	formData := url.Values{}
	formData.Set("login-subject", email)
	formData.Set("password", password)
	formData.Set("auth_token", h.authToken)

	loginReq, err := http.NewRequest(http.MethodPost, "https://hamster.is/login", bytes.NewBufferString(formData.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create login request: %v", err)
	}

	loginReq.Header = http.Header{
		"accept":          {"text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8"},
		"accept-encoding": {"gzip, deflate, br, zstd"},
		"content-type":    {"application/x-www-form-urlencoded"},
		"connection":      {"keep-alive"},
		"origin":          {"https://hamster.is"},
		"referer":         {"https://hamster.is/"},
		"user-agent":      {hamsterUserAgent},
		http.HeaderOrderKey: {
			"accept",
			"accept-encoding",
			"content-type",
			"connection",
			"origin",
			"referer",
			"user-agent",
		},
	}

	loginResp, err := h.client.Do(loginReq)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("login request cancelled: %v", ctx.Err())
		}
		return fmt.Errorf("login request failed: %v", err)
	}
	defer loginResp.Body.Close()

	// The session cookie lands in the jar during the redirect chain.
	if loginResp.StatusCode >= 300 && loginResp.StatusCode < 400 {
		location := loginResp.Header.Get("Location")
		if location != "" {
			redirectReq, err := http.NewRequest(http.MethodGet, location, nil)
			if err != nil {
				return fmt.Errorf("failed to create redirect request: %v", err)
			}
			redirectReq.Header.Set("accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8")
			redirectReq.Header.Set("user-agent", hamsterUserAgent)
			redirectReq.Header.Set("referer", "https://hamster.is/login")

			loginResp.Body.Close()
			loginResp, err = h.client.Do(redirectReq)
			if err != nil {
				return fmt.Errorf("failed to follow redirect: %v", err)
			}
			defer loginResp.Body.Close()
		}
	}

	hamsterURL, _ := url.Parse("https://hamster.is/")
	keepLoginFound := false
	for _, cookie := range h.client.GetCookieJar().Cookies(hamsterURL) {
		if cookie.Name == "KEEP_LOGIN" {
			keepLoginFound = true
			break
		}
	}
	if !keepLoginFound {
		return fmt.Errorf("login failed: status %d - KEEP_LOGIN cookie not found in session", loginResp.StatusCode)
	}

	log.Printf("Hamster login successful")
	h.loggedIn = true
	return nil
}

func hamsterContentType(fileName string) string {
	switch filepath.Ext(fileName) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".bmp":
		return "image/bmp"
	}
	return "application/octet-stream"
}

func (h *HamsterService) Upload(ctx context.Context, filePath string) (*UploadResult, error) {
	fileName, err := validateImageFile(filePath)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	err = h.loginLocked(ctx)
	authToken := h.authToken
	h.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to login: %v", err)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %v", err)
	}
	defer file.Close()

	var buffer bytes.Buffer
	writer := multipart.NewWriter(&buffer)

	part, err := writer.CreateFormFile("source", fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %v", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("failed to copy file data: %v", err)
	}

	fields := map[string]string{
		"type":       "file",
		"action":     "upload",
		"timestamp":  strconv.FormatInt(time.Now().UnixMilli(), 10),
		"auth_token": authToken,
		"nsfw":       "1",
		"mimetype":   hamsterContentType(fileName),
		"checksum":   "",
	}

	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, fmt.Errorf("failed to write form field %s: %v", key, err)
		}
	}
	writer.Close()

	req, err := http.NewRequest(http.MethodPost, "https://hamster.is/json", &buffer)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload request: %v", err)
	}

	req.Header = http.Header{
		"accept":         {"application/json"},
		"content-type":   {writer.FormDataContentType()},
		"origin":         {"https://hamster.is"},
		"referer":        {"https://hamster.is/"},
		"sec-fetch-dest": {"empty"},
		"sec-fetch-mode": {"cors"},
		"sec-fetch-site": {"same-origin"},
		"user-agent":     {hamsterUserAgent},
		http.HeaderOrderKey: {
			"accept",
			"content-type",
			"origin",
			"referer",
			"sec-fetch-dest",
			"sec-fetch-mode",
			"sec-fetch-site",
			"user-agent",
		},
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("upload cancelled: %v", ctx.Err())
		}
		return nil, fmt.Errorf("upload request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("upload failed: status %d - %s", resp.StatusCode, string(respBody))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload response: %v", err)
	}

	var respJSON struct {
		Image struct {
			URL       string `json:"url"`
			URLViewer string `json:"url_viewer"`
			Thumb     struct {
				URL string `json:"url"`
			} `json:"thumb"`
		} `json:"image"`
	}
	if err := json.Unmarshal(body, &respJSON); err != nil {
		return nil, fmt.Errorf("failed to parse upload JSON: %v", err)
	}

	result := &UploadResult{
		BBThumb: fmt.Sprintf("[URL=%s][IMG]%s[/IMG][/URL]", respJSON.Image.URLViewer, respJSON.Image.Thumb.URL),
		BBBig:   fmt.Sprintf("[URL=%s][IMG]%s[/IMG][/URL]", respJSON.Image.URLViewer, respJSON.Image.URL),
	}

	log.Printf("Hamster upload completed: %s", fileName)
	return result, nil
}
