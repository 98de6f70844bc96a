package img_uploaders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var fastpicUploadIDRe = regexp.MustCompile(`"upload_id"\s*:\s*'([^']+)'`)

// FastpicService uploads to fastpic.org. The per-session upload id is
// scraped from the homepage on the first upload; the fp_sid cookie is read
// from settings at that point, or adopted from the server when unset.
type FastpicService struct {
	sid       func() string
	thumbSize func() int

	mu         sync.Mutex
	sessionSID string
	uploadID   string
}

func NewFastpicService(sid func() string, thumbSize func() int) *FastpicService {
	return &FastpicService{sid: sid, thumbSize: thumbSize}
}

// ensureSession obtains the upload id and session cookie, once per service.
func (f *FastpicService) ensureSession(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.uploadID != "" {
		return nil
	}

	client := &http.Client{Timeout: 30 * time.Second}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://new.fastpic.org/", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %v", err)
	}

	f.sessionSID = f.sid()
	if f.sessionSID != "" {
		req.AddCookie(&http.Cookie{Name: "fp_sid", Value: f.sessionSID})
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("request cancelled: %v", ctx.Err())
		}
		return fmt.Errorf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fastpic returned status code %d", resp.StatusCode)
	}

	if f.sessionSID == "" {
		for _, cookie := range resp.Cookies() {
			if cookie.Name == "fp_sid" && cookie.Value != "" {
				f.sessionSID = cookie.Value
				break
			}
		}
		if f.sessionSID == "" {
			log.Printf("Warning: could not find fp_sid in fastpic response cookies")
		}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to parse HTML: %v", err)
	}

	var scriptText string
	doc.Find("script").EachWithBreak(func(i int, s *goquery.Selection) bool {
		text := s.Text()
		if strings.Contains(text, `"upload_id"`) {
			scriptText = text
			return false
		}
		return true
	})

	matches := fastpicUploadIDRe.FindStringSubmatch(scriptText)
	if len(matches) < 2 {
		return fmt.Errorf("upload_id not found on fastpic homepage")
	}

	f.uploadID = matches[1]
	log.Printf("Obtained fastpic upload ID: %s", f.uploadID)
	return nil
}

func (f *FastpicService) Upload(ctx context.Context, filePath string) (*UploadResult, error) {
	fileName, err := validateImageFile(filePath)
	if err != nil {
		return nil, err
	}

	if err := f.ensureSession(ctx); err != nil {
		return nil, err
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %v", err)
	}
	defer file.Close()

	var buffer bytes.Buffer
	writer := multipart.NewWriter(&buffer)

	fields := map[string]string{
		"uploading":                 "1",
		"fp":                        "not-loaded",
		"upload_id":                 f.uploadID,
		"check_thumb":               "size",
		"thumb_text":                "",
		"thumb_size":                strconv.Itoa(f.thumbSize()),
		"check_thumb_size_vertical": "false",
		"check_orig_resize":         "false",
		"orig_resize":               "1200",
		"check_resize_frontend":     "false",
		"check_optimization":        "false",
		"check_poster":              "false",
		"delete_after":              "0",
	}

	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, fmt.Errorf("failed to write form field %s: %v", key, err)
		}
	}

	part, err := writer.CreateFormFile("file1", fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %v", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("failed to copy file data: %v", err)
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://new.fastpic.org/v2upload/", &buffer)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %v", err)
	}

	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	if f.sessionSID != "" {
		req.AddCookie(&http.Cookie{Name: "fp_sid", Value: f.sessionSID})
		req.AddCookie(&http.Cookie{Name: "pp", Value: "1"})
	}

	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("upload cancelled: %v", ctx.Err())
		}
		return nil, fmt.Errorf("upload request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %v", err)
	}

	var respJSON struct {
		ThumbLink string `json:"thumb_link"`
		ViewLink  string `json:"view_link"`
		AlbumLink string `json:"album_link"`
		Codes     string `json:"codes"`
	}
	if err := json.Unmarshal(body, &respJSON); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %v", err)
	}

	result := &UploadResult{
		AlbumLink: "https://new.fastpic.org" + respJSON.AlbumLink,
	}
	result.BBThumb, result.BBBig = extractFastpicBBCodes(respJSON.Codes)

	log.Printf("Fastpic upload completed: %s", fileName)
	return result, nil
}

// extractFastpicBBCodes pulls the thumb and big BBCode variants out of the
// "codes" HTML block fastpic returns with every upload.
func extractFastpicBBCodes(codesHTML string) (bbThumb, bbBig string) {
	doc, err := html.Parse(strings.NewReader(codesHTML))
	if err != nil {
		log.Printf("Failed to parse fastpic codes HTML: %v", err)
		return "", ""
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "input" {
			var value string
			for _, attr := range n.Attr {
				if attr.Key == "value" {
					value = attr.Val
					break
				}
			}

			if strings.HasPrefix(value, "[URL=") && strings.Contains(value, "[IMG]") {
				if strings.Contains(value, "/thumb/") && strings.Contains(value, ".jpeg") {
					bbThumb = value
				} else if strings.Contains(value, "/big/") && strings.Contains(value, ".jpg") {
					bbBig = value
				}
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	walk(doc)
	return bbThumb, bbBig
}
