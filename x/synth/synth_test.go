package synth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := New(Config{BaseURL: baseURL, APIKey: "test-key"}, NewPromptBuilder(rand.New(rand.NewSource(1))), zerolog.Nop())
	require.NoError(t, err)
	return c
}

func artifactResponse(png []byte) string {
	encoded, _ := json.Marshal(map[string]any{
		"artifacts": []map[string]any{
			{"base64": base64.StdEncoding.EncodeToString(png), "finishReason": "SUCCESS"},
		},
	})
	return string(encoded)
}

func TestGenerateDecodesArtifact(t *testing.T) {
	t.Parallel()

	png := []byte("fake-png-bytes")
	var gotPath string
	var gotBody generationRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		fmt.Fprint(w, artifactResponse(png))
	}))
	t.Cleanup(srv.Close)

	client := newTestClient(t, srv.URL)
	img, err := client.Generate(context.Background(), false, nil)
	require.NoError(t, err)

	require.Equal(t, png, img.PNG)
	require.False(t, img.Legendary)
	require.Contains(t, gotPath, "/generation/stable-diffusion-xl-1024-v1-0/text-to-image")
	require.Equal(t, 8.5, gotBody.CfgScale)
	require.Equal(t, 1024, gotBody.Height)
	require.Equal(t, 30, gotBody.Steps)
	require.Equal(t, "pixel-art", gotBody.StylePreset)
	require.Len(t, gotBody.TextPrompts, 2)
	require.Equal(t, float64(-1), gotBody.TextPrompts[1].Weight)
}

func TestGenerateRemixUsesImageToImage(t *testing.T) {
	t.Parallel()

	reference := []byte("user-upload")
	var gotPath string
	var gotBody generationRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		fmt.Fprint(w, artifactResponse([]byte("out")))
	}))
	t.Cleanup(srv.Close)

	client := newTestClient(t, srv.URL)
	_, err := client.Generate(context.Background(), false, reference)
	require.NoError(t, err)

	require.Contains(t, gotPath, "image-to-image")
	require.Equal(t, base64.StdEncoding.EncodeToString(reference), gotBody.InitImage)
	require.Zero(t, gotBody.Height, "dimensions come from the init image")
}

func TestGenerateLegendaryPrompt(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, artifactResponse([]byte("out")))
	}))
	t.Cleanup(srv.Close)

	client := newTestClient(t, srv.URL)
	img, err := client.Generate(context.Background(), true, nil)
	require.NoError(t, err)
	require.True(t, img.Legendary)
	require.Contains(t, img.Prompt, "legendary")
}

func TestGenerateSurfacesAPIError(t *testing.T) {
	t.Parallel()

	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"message":"invalid prompt"}`)
	}))
	t.Cleanup(srv.Close)

	client := newTestClient(t, srv.URL)
	_, err := client.Generate(context.Background(), false, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid prompt")
	require.Equal(t, 1, calls, "synthesis is never retried automatically")
}

func TestGenerateEmptyArtifacts(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"artifacts":[]}`)
	}))
	t.Cleanup(srv.Close)

	client := newTestClient(t, srv.URL)
	_, err := client.Generate(context.Background(), false, nil)
	require.ErrorIs(t, err, ErrNoImage)
}

func TestPromptBuilderDeterministicUnderSeed(t *testing.T) {
	t.Parallel()

	a := NewPromptBuilder(rand.New(rand.NewSource(42))).Build(false)
	b := NewPromptBuilder(rand.New(rand.NewSource(42))).Build(false)
	require.Equal(t, a, b)

	require.True(t, strings.HasPrefix(a, "Create a profile picture in NFT style:"))
	require.NotContains(t, a, legendaryTreatment)

	c := NewPromptBuilder(rand.New(rand.NewSource(42))).Build(true)
	require.Contains(t, c, legendaryTreatment)
}

func TestNewRequiresAPIKey(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil, zerolog.Nop())
	require.Error(t, err)
}
