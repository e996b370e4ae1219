package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client calls an OpenAI-compatible chat completion endpoint.
type Client struct {
	BaseURL string
	APIKey  string
	Model   string

	HTTPClient *http.Client
}

// Prompts used for the two kinds of calls the wiki makes.
const (
	canonicalSystemPrompt = "If the word is plural, output the singular word. If the word is a verb, output the unconjugated form. ONLY OUTPUT 1 WORD."

	articleSystemPrompt = "You are an expert in creating detailed articles for a wiki (at least %d words). Only output the article text without any additional commentary. Be creative and dont hesitate to invent new information if necessary."
	articleFormatPrompt = "Use HTML formatting to structure the article. Do not include any links or references to external sources. Do not define the html no <head> or <body> tags nor <html> or <!DOCTYPE html>, maximum size should be h2. Do not include the title of the article, start with the introduction."
	articleUserPrompt   = "Create a detailed article about %s."

	defaultArticleWords = 500
)

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Canonicalize asks the model for the singular or unconjugated form of word.
// Only the first whitespace-separated token of the answer is returned,
// lowercased.
func (c *Client) Canonicalize(ctx context.Context, word string) (string, error) {
	out, err := c.Chat(ctx, canonicalSystemPrompt, word)
	if err != nil {
		return "", err
	}
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return "", fmt.Errorf("llm: empty canonical form for %q", word)
	}
	return strings.ToLower(fields[0]), nil
}

// ArticleGenerator produces article HTML with a configurable length floor.
type ArticleGenerator struct {
	Client   *Client
	MinWords int
}

// GenerateArticle asks the model for an HTML article about name.
func (g *ArticleGenerator) GenerateArticle(ctx context.Context, name string) (string, error) {
	minWords := g.MinWords
	if minWords <= 0 {
		minWords = defaultArticleWords
	}
	messages := []chatMessage{
		{Role: "system", Content: fmt.Sprintf(articleSystemPrompt, minWords)},
		{Role: "system", Content: articleFormatPrompt},
		{Role: "user", Content: fmt.Sprintf(articleUserPrompt, name)},
	}
	out, err := g.Client.complete(ctx, messages)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("llm: empty article for %q", name)
	}
	return out, nil
}

// Chat sends a single system + user exchange and returns the reply text.
func (c *Client) Chat(ctx context.Context, system, user string) (string, error) {
	return c.complete(ctx, []chatMessage{{Role: "system", Content: system}, {Role: "user", Content: user}})
}

func (c *Client) complete(ctx context.Context, messages []chatMessage) (string, error) {
	if c.BaseURL == "" || c.Model == "" {
		return "", fmt.Errorf("llm: base URL and model required")
	}
	payload, err := c.send(ctx, messages)
	if err != nil {
		return "", err
	}
	if len(payload.Choices) == 0 {
		return "", fmt.Errorf("llm: empty response")
	}
	return payload.Choices[0].Message.Content, nil
}

func (c *Client) send(ctx context.Context, messages []chatMessage) (*chatResponse, error) {
	reqBody, err := json.Marshal(chatRequest{Model: c.Model, Messages: messages})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("llm: http %d", resp.StatusCode)
		}
		return nil, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	if payload.Error != nil {
		return nil, fmt.Errorf("llm error: %s", payload.Error.Message)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("llm: http %d", resp.StatusCode)
	}
	return &payload, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}
