// Package tibia provides clients for the read-only Tibia informational API
// and the question-answering agent service. Both are best-effort
// collaborators: their failures become reply text, never crashes.
package tibia

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"
)

const requestTimeout = 10 * time.Second

// Client calls the TibiaData-style informational API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates an informational API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// House is one entry from the houses listing.
type House struct {
	Name      string `json:"name"`
	Rent      int    `json:"rent"`
	Size      int    `json:"size"`
	Auctioned bool   `json:"auctioned"`
	Auction   struct {
		CurrentBid int    `json:"current_bid"`
		TimeLeft   string `json:"time_left"`
	} `json:"auction"`
}

type housesResponse struct {
	Houses struct {
		HouseList []House `json:"house_list"`
	} `json:"houses"`
}

type bossesResponse struct {
	BoostableBosses struct {
		Boosted struct {
			Name     string `json:"name"`
			ImageURL string `json:"image_url"`
		} `json:"boosted"`
	} `json:"boostable_bosses"`
}

// AuctionedHouses returns the houses currently up for auction in a city.
func (c *Client) AuctionedHouses(ctx context.Context, world, city string) ([]House, error) {
	url := fmt.Sprintf("%s/houses/%s/%s", c.baseURL, world, city)

	var resp housesResponse
	if err := c.getJSON(ctx, url, &resp); err != nil {
		return nil, err
	}

	var auctioned []House
	for _, h := range resp.Houses.HouseList {
		if h.Auctioned {
			auctioned = append(auctioned, h)
		}
	}
	return auctioned, nil
}

// BoostedBoss returns today's boosted boss name and the basename of its
// remote image URL. The basename doubles as the local image cache filename.
func (c *Client) BoostedBoss(ctx context.Context) (name, imageFilename string, err error) {
	url := c.baseURL + "/boostablebosses/"

	var resp bossesResponse
	if err := c.getJSON(ctx, url, &resp); err != nil {
		return "", "", err
	}

	boosted := resp.BoostableBosses.Boosted
	if boosted.Name == "" {
		return "", "", fmt.Errorf("no boosted boss in API response")
	}

	return boosted.Name, filepath.Base(boosted.ImageURL), nil
}

func (c *Client) getJSON(ctx context.Context, url string, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse API response: %w", err)
	}
	return nil
}

// AgentClient calls the question-answering agent service.
type AgentClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewAgentClient creates a query agent client.
func NewAgentClient(baseURL string) *AgentClient {
	return &AgentClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type askRequest struct {
	Question string `json:"question"`
}

type askResponse struct {
	Response string `json:"response"`
}

// Ask forwards a free-text question and returns the agent's answer.
func (c *AgentClient) Ask(ctx context.Context, question string) (string, error) {
	payload, err := json.Marshal(askRequest{Question: question})
	if err != nil {
		return "", fmt.Errorf("marshal question: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ask", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ask request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ask returned status %d", resp.StatusCode)
	}

	var answer askResponse
	if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		return "", fmt.Errorf("parse ask response: %w", err)
	}
	return answer.Response, nil
}
