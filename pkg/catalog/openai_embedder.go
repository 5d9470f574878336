package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// OpenAIEmbedder implements EmbeddingProvider over OpenAI's embeddings
// endpoint. Grounded on the request/response handling shape of
// pkg/providers/llm/openai.go's Complete — same client, auth header, and
// error envelope, a different endpoint and response body.
type OpenAIEmbedder struct {
	apiKey string
	url    string
	model  string
}

// NewOpenAIEmbedder builds an embedder. model defaults to
// "text-embedding-3-small", matching the 1536-dim vectors pgvector/postgres.go
// assumes.
func NewOpenAIEmbedder(apiKey string, model string) *OpenAIEmbedder {
	if model == "" {
		model = "text-embedding-3-small"
	}
	return &OpenAIEmbedder{
		apiKey: apiKey,
		url:    "https://api.openai.com/v1/embeddings",
		model:  model,
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	payload := map[string]interface{}{
		"model": e.model,
		"input": text,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", e.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return nil, fmt.Errorf("openai embeddings error (status %d): %v", resp.StatusCode, errResp)
	}

	var result struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	if len(result.Data) == 0 {
		return nil, fmt.Errorf("no embedding returned from openai")
	}
	return result.Data[0].Embedding, nil
}
