package analysis

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Client calls an OpenAI-compatible API (OpenAI itself, or a local
// server exposing the same surface) for embeddings and chat
// completions.
type Client struct {
	baseURL    string
	apiKey     string
	embedModel string
	chatModel  string
	httpClient *http.Client
}

// NewClient creates a Client against baseURL (e.g.
// "https://api.openai.com/v1"). embedModel serves Embed; chatModel
// serves DescribeImage and SuggestTags.
func NewClient(baseURL, apiKey, embedModel, chatModel string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		embedModel: embedModel,
		chatModel:  chatModel,
		httpClient: &http.Client{
			Timeout: 0,
		},
	}
}

var _ Provider = (*Client)(nil)

// post sends a JSON request and decodes the JSON response into out.
func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", path, ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %w: unexpected status %d", path, ErrUnavailable, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: %w: decoding response: %w", path, ErrUnavailable, err)
	}
	return nil
}

// embeddingsRequest is the JSON body for POST /embeddings.
type embeddingsRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// embeddingsResponse is the JSON returned by POST /embeddings.
type embeddingsResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	var result embeddingsResponse
	err := c.post(ctx, "/embeddings", embeddingsRequest{Model: c.embedModel, Input: text}, &result)
	if err != nil {
		return nil, err
	}
	if len(result.Data) == 0 {
		return nil, fmt.Errorf("/embeddings: %w: empty data array", ErrUnavailable)
	}
	return result.Data[0].Embedding, nil
}

// chatMessage is one message in a chat completion request. Content is
// either a plain string or a list of content parts (for image input).
type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

// chatRequest is the JSON body for POST /chat/completions.
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

// chatResponse is the JSON returned by POST /chat/completions.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// chat sends messages and returns the first choice's content.
func (c *Client) chat(ctx context.Context, messages []chatMessage) (string, error) {
	var result chatResponse
	err := c.post(ctx, "/chat/completions", chatRequest{Model: c.chatModel, Messages: messages}, &result)
	if err != nil {
		return "", err
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("/chat/completions: %w: empty choices", ErrUnavailable)
	}
	return result.Choices[0].Message.Content, nil
}

const describePrompt = "Describe this image concisely. Mention any visible text, " +
	"people, objects, and the overall subject. Two or three sentences."

func (c *Client) DescribeImage(ctx context.Context, data []byte, mimeType string) (string, error) {
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)

	content, err := c.chat(ctx, []chatMessage{{
		Role: "user",
		Content: []contentPart{
			{Type: "text", Text: describePrompt},
			{Type: "image_url", ImageURL: &imageURL{URL: dataURL}},
		},
	}})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

const tagPromptFormat = `Suggest up to %d short topic tags for this social media post.
Tags must be lowercase, one or two words each.
Respond with a JSON array of strings and nothing else.

Post text:
%s%s`

func (c *Client) SuggestTags(ctx context.Context, text string, imageDescriptions []string, max int) ([]string, error) {
	var images string
	if len(imageDescriptions) > 0 {
		images = "\n\nImage descriptions:\n" + strings.Join(imageDescriptions, "\n")
	}
	prompt := fmt.Sprintf(tagPromptFormat, max, text, images)

	content, err := c.chat(ctx, []chatMessage{{Role: "user", Content: prompt}})
	if err != nil {
		return nil, err
	}

	tags, err := parseTagArray(content)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if len(tags) > max {
		tags = tags[:max]
	}
	return tags, nil
}

// parseTagArray extracts a JSON string array from model output. The
// model sometimes wraps the array in prose or code fences, so we find
// the outermost brackets first.
func parseTagArray(content string) ([]string, error) {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in model output")
	}

	var raw []string
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("parsing tag array: %w", err)
	}

	var tags []string
	for _, t := range raw {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			tags = append(tags, t)
		}
	}
	return tags, nil
}
