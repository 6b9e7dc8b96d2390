// Package clients holds the adapters to the external services the mission
// engine depends on: the content generator, the image labeler and the
// distributed generation lock.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"travel-missions/models"
)

// Label is one detection returned by the labeler.
type Label struct {
	Description string  `json:"description"`
	Score       float64 `json:"score"`
}

type labelResponse struct {
	Labels []Label `json:"labels"`
}

// LabelerClient asks an image label-detection service what a photo shows and
// checks the answer against mission keywords.
type LabelerClient struct {
	BaseURL  string
	Token    string
	MinScore float64
	Client   *http.Client
	Log      *logrus.Entry
}

func NewLabelerClient(baseURL, token string, minScore float64, log *logrus.Entry) *LabelerClient {
	return &LabelerClient{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Token:    token,
		MinScore: minScore,
		Client: &http.Client{
			Timeout: 15 * time.Second,
		},
		Log: log,
	}
}

// Labels calls POST /labels for imageURL.
func (c *LabelerClient) Labels(ctx context.Context, imageURL string) ([]Label, error) {
	jsonData, err := json.Marshal(map[string]string{"image_url": imageURL})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/labels", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		c.Log.WithFields(logrus.Fields{"status": resp.StatusCode, "body": string(body)}).Warn("labeler returned non-200")
		return nil, fmt.Errorf("labeler request failed: %d", resp.StatusCode)
	}

	var out labelResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode labeler response: %w", err)
	}
	return out.Labels, nil
}

// Validate reports whether the photo shows something matching one of the
// keywords with at least MinScore confidence.
func (c *LabelerClient) Validate(ctx context.Context, imageURL string, keywords []string) (bool, error) {
	labels, err := c.Labels(ctx, imageURL)
	if err != nil {
		return false, err
	}
	return MatchLabels(labels, keywords, c.MinScore), nil
}

// MatchLabels compares labels and keywords after accent and case folding. A
// label matches when it equals a keyword or one contains the other as a word.
func MatchLabels(labels []Label, keywords []string, minScore float64) bool {
	folded := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if k := models.FoldText(kw); k != "" {
			folded = append(folded, k)
		}
	}
	for _, l := range labels {
		if l.Score < minScore {
			continue
		}
		desc := models.FoldText(l.Description)
		if desc == "" {
			continue
		}
		for _, kw := range folded {
			if desc == kw || containsWord(desc, kw) || containsWord(kw, desc) {
				return true
			}
		}
	}
	return false
}

func containsWord(haystack, word string) bool {
	for _, f := range strings.Fields(haystack) {
		if f == word {
			return true
		}
	}
	return false
}

// AcceptAllValidator stands in for the labeler when none is configured.
type AcceptAllValidator struct {
	Log *logrus.Entry
}

func (v AcceptAllValidator) Validate(_ context.Context, imageURL string, _ []string) (bool, error) {
	v.Log.WithField("image_url", imageURL).Warn("⚠️  LABELER_URL not set, accepting image without validation")
	return true, nil
}
