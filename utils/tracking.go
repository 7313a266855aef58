package utils

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// NewTrackToken generates the opaque token embedded in a message's
// tracking pixel and click-redirect URLs.
func NewTrackToken() string {
	return uuid.New().String()
}

// TrackingPixelURL builds the open-tracking pixel URL for a message token.
func TrackingPixelURL(baseURL, token string) string {
	return fmt.Sprintf("%s/t/o?m=%s", baseURL, token)
}

// ClickTrackURL builds a tracked redirect URL wrapping originalURL.
func ClickTrackURL(baseURL, token, originalURL string) string {
	return fmt.Sprintf("%s/t/c?m=%s&u=%s", baseURL, token, url.QueryEscape(originalURL))
}

// UnsubscribeURL builds the one-click unsubscribe URL for a message token.
func UnsubscribeURL(baseURL, token string) string {
	return fmt.Sprintf("%s/t/u?m=%s", baseURL, token)
}

// InjectTracking rewrites every link in an HTML email body through the
// click-redirect endpoint, then appends an unsubscribe footer and the
// open-tracking pixel. The footer goes in after rewriting so unsubscribe
// clicks reach /t/u directly instead of counting as engagement.
func InjectTracking(htmlContent, baseURL, token string) string {
	modified := injectClickTracking(htmlContent, baseURL, token)

	footer := fmt.Sprintf(`<p style="font-size:11px;color:#999"><a href="%s">Unsubscribe</a></p>`,
		UnsubscribeURL(baseURL, token))

	pixelURL := TrackingPixelURL(baseURL, token)
	trackingPixel := fmt.Sprintf(`<img src="%s" alt="" width="1" height="1" style="display:none">`, pixelURL)

	return modified + footer + trackingPixel
}

func injectClickTracking(html, baseURL, token string) string {
	// Simplified scanner over anchor hrefs; an HTML parser is overkill for
	// the template bodies we generate.
	startTag := `<a href="`
	endTag := `"`
	offset := 0

	for {
		startIdx := strings.Index(html[offset:], startTag)
		if startIdx == -1 {
			break
		}
		startIdx += offset + len(startTag)

		endIdx := strings.Index(html[startIdx:], endTag)
		if endIdx == -1 {
			break
		}
		endIdx += startIdx

		originalURL := html[startIdx:endIdx]
		trackedURL := ClickTrackURL(baseURL, token, originalURL)

		html = html[:startIdx] + trackedURL + html[endIdx:]
		offset = startIdx + len(trackedURL)
	}

	return html
}
