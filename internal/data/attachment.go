package data

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/DevRickLin/feishu-chatflow/internal/biz/domain"
	"github.com/DevRickLin/feishu-chatflow/internal/biz/repo"
)

const (
	imageSize    = 512
	maxPageBytes = 5 << 20
)

// attachmentRepo prepares image and link attachments
type attachmentRepo struct {
	http   *http.Client
	logger *zap.Logger
}

// NewAttachmentRepo creates an attachment preparer.
// A nil client uses a 20 second timeout client.
func NewAttachmentRepo(client *http.Client, logger *zap.Logger) repo.AttachmentRepo {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &attachmentRepo{http: client, logger: logger.Named("attachment")}
}

// PrepareImage resizes the image to 512x512 and re-encodes it as JPEG
func (r *attachmentRepo) PrepareImage(ctx context.Context, data []byte, meta map[string]any) (*domain.MessageExtra, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	resized := imaging.Resize(img, imageSize, imageSize, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.JPEG); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}

	if meta == nil {
		meta = make(map[string]any)
	}
	meta["resize_pixels"] = fmt.Sprintf("%d*%d", imageSize, imageSize)
	meta["real_pixels"] = fmt.Sprintf("%d*%d", bounds.Dx(), bounds.Dy())

	return &domain.MessageExtra{Meta: meta, Bytes: buf.Bytes()}, nil
}

// ScrapeLink fetches the page and extracts its visible text
func (r *attachmentRepo) ScrapeLink(ctx context.Context, url string) (*domain.MessageExtra, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		r.logger.Warn("invalid link", zap.String("url", url), zap.Error(err))
		return nil, nil
	}

	resp, err := r.http.Do(req)
	if err != nil {
		r.logger.Warn("fetch link failed", zap.String("url", url), zap.Error(err))
		return nil, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		r.logger.Info("link returned non-200", zap.String("url", url), zap.Int("status", resp.StatusCode))
		return nil, nil
	}

	text, err := extractText(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", url, err)
	}
	r.logger.Debug("scraped link", zap.String("url", url), zap.Int("chars", len(text)))

	return &domain.MessageExtra{
		Meta:  map[string]any{"link": url},
		Bytes: []byte(text),
	}, nil
}

// extractText returns the page's text nodes, one per line, skipping scripts and styles
func extractText(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", err
	}

	var lines []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "template":
				return
			}
		}
		if n.Type == html.TextNode {
			if s := strings.TrimSpace(n.Data); s != "" {
				lines = append(lines, s)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return strings.Join(lines, "\n"), nil
}
