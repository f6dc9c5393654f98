package youtube

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	kkdai "github.com/kkdai/youtube/v2"

	"github.com/quizstream/quizstream-worker/internal/logger"
	"github.com/quizstream/quizstream-worker/internal/quizgen"
	"github.com/quizstream/quizstream-worker/internal/types"
)

// Client fetches YouTube video metadata and caption tracks. The HTTP client
// is injected so a proxy can be configured in one place instead of patching
// global transport state.
type Client struct {
	log        *logger.Logger
	yt         kkdai.Client
	httpClient *http.Client
}

func NewClient(log *logger.Logger, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		log:        log.With("client", "YouTubeClient"),
		yt:         kkdai.Client{HTTPClient: httpClient},
		httpClient: httpClient,
	}
}

var languageCodes = map[types.QuizLanguage]string{
	types.LanguageEN: "en",
	types.LanguageES: "es",
	types.LanguageDE: "de",
}

// Fetch implements quizgen.TranscriptSource.
func (c *Client) Fetch(ctx context.Context, videoURL string, language types.QuizLanguage) (quizgen.Transcript, error) {
	video, err := c.yt.GetVideoContext(ctx, videoURL)
	if err != nil {
		return quizgen.Transcript{}, fmt.Errorf("get video: %w", err)
	}
	if len(video.CaptionTracks) == 0 {
		return quizgen.Transcript{}, fmt.Errorf("no caption tracks for video %s", video.ID)
	}

	lang := languageCodes[language]
	if lang == "" {
		lang = "en"
	}
	track := findTrack(video.CaptionTracks, lang)

	captionURL := track.BaseURL
	if !strings.HasPrefix(track.LanguageCode, lang) {
		// Ask YouTube to machine-translate the track into the requested
		// language.
		sep := "&"
		if !strings.Contains(captionURL, "?") {
			sep = "?"
		}
		captionURL = captionURL + sep + "tlang=" + lang
	}

	text, err := c.fetchCaptionText(ctx, captionURL)
	if err != nil {
		return quizgen.Transcript{}, fmt.Errorf("fetch captions: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return quizgen.Transcript{}, fmt.Errorf("empty captions for video %s", video.ID)
	}

	return quizgen.Transcript{
		Text:        text,
		Title:       video.Title,
		Author:      video.Author,
		Description: video.Description,
		SourceURL:   videoURL,
		LengthSec:   int(video.Duration / time.Second),
	}, nil
}

// findTrack prefers an exact or prefixed language match and falls back to the
// first available track.
func findTrack(tracks []kkdai.CaptionTrack, lang string) kkdai.CaptionTrack {
	for _, t := range tracks {
		if t.LanguageCode == lang || strings.HasPrefix(t.LanguageCode, lang+"-") {
			return t
		}
	}
	return tracks[0]
}

type xmlTranscript struct {
	XMLName xml.Name  `xml:"transcript"`
	Texts   []xmlText `xml:"text"`
}

type xmlText struct {
	Body string `xml:",chardata"`
}

func (c *Client) fetchCaptionText(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("caption request returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var transcript xmlTranscript
	if err := xml.Unmarshal(body, &transcript); err != nil {
		return "", fmt.Errorf("caption XML parse: %w", err)
	}

	var b strings.Builder
	for _, t := range transcript.Texts {
		line := strings.TrimSpace(t.Body)
		if line == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(line)
	}
	return b.String(), nil
}
