package news

import (
	"encoding/xml"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
)

const maxHeadlines = 10

type rss struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Items []struct {
			Title   string `xml:"title"`
			PubDate string `xml:"pubDate"`
		} `xml:"item"`
	} `xml:"channel"`
}

// GoogleClient fetches headlines from the Google News RSS feed.
type GoogleClient struct {
	client  *resty.Client
	baseURL string
}

var _ Source = (*GoogleClient)(nil)

func NewGoogleClient() *GoogleClient {
	client := resty.New()
	client.SetTimeout(30 * time.Second)
	client.SetHeader("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36")

	return &GoogleClient{
		client:  client,
		baseURL: "https://news.google.com/rss/search",
	}
}

func (g *GoogleClient) GetHeadlines(symbol string) ([]Headline, error) {
	query := url.Values{}
	query.Set("q", symbol+" stock")
	query.Set("hl", "en-US")
	query.Set("gl", "US")
	query.Set("ceid", "US:en")

	resp, err := g.client.R().Get(g.baseURL + "?" + query.Encode())
	if err != nil {
		return nil, fmt.Errorf("fetch news for %s: %w", symbol, err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("fetch news for %s: status %d", symbol, resp.StatusCode())
	}

	var feed rss
	if err := xml.Unmarshal(resp.Body(), &feed); err != nil {
		return nil, fmt.Errorf("parse news feed for %s: %w", symbol, err)
	}

	var headlines []Headline
	for _, item := range feed.Channel.Items {
		if len(headlines) >= maxHeadlines {
			break
		}
		published, err := time.Parse(time.RFC1123, item.PubDate)
		if err != nil {
			// Some feeds use the numeric-zone variant.
			published, _ = time.Parse(time.RFC1123Z, item.PubDate)
		}
		headlines = append(headlines, Headline{
			Title:       item.Title,
			PublishedAt: published,
		})
	}
	return headlines, nil
}
