// Command bluesky proxies a couple of read-only Bluesky AT Protocol
// endpoints through RPC, trimming their JSON to the fields a client uses and
// renaming feed keys that start with "$".
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"

	"github.com/capnweb-go/capnweb"
)

const blueskyAPIBase = "https://public.api.bsky.app/xrpc"

// sanitizeJSON renames keys starting with "$" (e.g. AT Protocol's "$type"
// discriminator) to start with "_" instead, through nested objects and
// arrays.
func sanitizeJSON(data any) any {
	switch v := data.(type) {
	case map[string]any:
		result := make(map[string]any, len(v))
		for key, val := range v {
			newKey := key
			if len(key) > 0 && key[0] == '$' {
				newKey = "_" + key[1:]
			}
			result[newKey] = sanitizeJSON(val)
		}
		return result
	case []any:
		result := make([]any, len(v))
		for i, item := range v {
			result[i] = sanitizeJSON(item)
		}
		return result
	default:
		return v
	}
}

// BlueskyProfile is a trimmed view of app.bsky.actor.getProfile's response.
type BlueskyProfile struct {
	DID            string `json:"did"`
	Handle         string `json:"handle"`
	DisplayName    string `json:"displayName,omitempty"`
	Description    string `json:"description,omitempty"`
	Avatar         string `json:"avatar,omitempty"`
	Banner         string `json:"banner,omitempty"`
	FollowersCount int    `json:"followersCount"`
	FollowsCount   int    `json:"followsCount"`
	PostsCount     int    `json:"postsCount"`
}

// BlueskyServer answers getProfile/getFeed by proxying the public Bluesky
// API, letting a caller pipeline a profile lookup and a feed fetch in one
// batch without waiting on the profile's round trip first.
type BlueskyServer struct {
	*capnweb.BaseRpcTarget
	httpClient *http.Client
}

func newBlueskyServer() *BlueskyServer {
	s := &BlueskyServer{
		BaseRpcTarget: capnweb.NewBaseRpcTarget(nil),
		httpClient:    &http.Client{},
	}
	s.Method("getProfile", s.getProfile)
	s.Method("getFeed", s.getFeed)
	return s
}

func (s *BlueskyServer) getProfile(_ *capnweb.InvokeContext, args []any) (any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("handle is required")
	}
	handle, ok := args[0].(string)
	if !ok || handle == "" {
		return nil, fmt.Errorf("handle must be a non-empty string")
	}

	apiURL := fmt.Sprintf("%s/app.bsky.actor.getProfile?actor=%s", blueskyAPIBase, url.QueryEscape(handle))
	log.Printf("fetching profile for handle: %s", handle)

	resp, err := s.httpClient.Get(apiURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profile: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("api error (status %d): %s", resp.StatusCode, string(body))
	}

	var profile BlueskyProfile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, fmt.Errorf("failed to parse profile: %w", err)
	}

	log.Printf("fetched profile for %s (did: %s)", profile.Handle, profile.DID)
	return profile, nil
}

func (s *BlueskyServer) getFeed(_ *capnweb.InvokeContext, args []any) (any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("handle is required")
	}
	handle, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("handle must be a string")
	}

	limit := 10
	if len(args) > 1 {
		if limitFloat, ok := args[1].(float64); ok {
			limit = int(limitFloat)
		}
	}

	apiURL := fmt.Sprintf("%s/app.bsky.feed.getAuthorFeed?actor=%s&limit=%d",
		blueskyAPIBase, url.QueryEscape(handle), limit)
	log.Printf("fetching feed for handle: %s (limit: %d)", handle, limit)

	resp, err := s.httpClient.Get(apiURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("api error (status %d): %s", resp.StatusCode, string(body))
	}

	var rawResponse map[string]any
	if err := json.Unmarshal(body, &rawResponse); err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}
	sanitized := sanitizeJSON(rawResponse).(map[string]any)

	feedArray, ok := sanitized["feed"].([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected feed response format")
	}

	posts := make([]any, 0, len(feedArray))
	for _, item := range feedArray {
		itemMap, ok := item.(map[string]any)
		if !ok {
			continue
		}
		postData, ok := itemMap["post"].(map[string]any)
		if !ok {
			continue
		}
		simplified := map[string]any{
			"uri":         postData["uri"],
			"cid":         postData["cid"],
			"indexedAt":   postData["indexedAt"],
			"replyCount":  getIntOrZero(postData, "replyCount"),
			"repostCount": getIntOrZero(postData, "repostCount"),
			"likeCount":   getIntOrZero(postData, "likeCount"),
		}
		if author, ok := postData["author"].(map[string]any); ok {
			simplified["author"] = map[string]any{
				"did":         author["did"],
				"handle":      author["handle"],
				"displayName": author["displayName"],
				"avatar":      author["avatar"],
			}
		}
		if record, ok := postData["record"].(map[string]any); ok {
			simplified["record"] = map[string]any{"text": record["text"]}
		}
		posts = append(posts, simplified)
	}

	log.Printf("fetched %d posts for %s", len(posts), handle)

	cursor := ""
	if c, ok := sanitized["cursor"].(string); ok {
		cursor = c
	}

	return map[string]any{"posts": posts, "cursor": cursor}, nil
}

func getIntOrZero(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func main() {
	staticPath := "/static"
	if len(os.Args) >= 2 {
		staticPath = os.Args[1]
	}
	port := ":8000"

	e := capnweb.SetupEchoServer()
	capnweb.SetupRpcEndpoint(e, "/rpc", func() capnweb.ContextualHost { return newBlueskyServer() })
	e.Static("/static", staticPath)

	log.Printf("bluesky feed reader server starting on port %s", port)
	log.Printf("http batch rpc endpoint: http://localhost%s/rpc", port)
	log.Println("try it with curl (push and pull in one request; each POST gets a fresh session):")
	log.Printf(`  curl -X POST http://localhost%s/rpc --data-binary $'["push",[["import",1],"getProfile",["bsky.app"]]]\n["pull",1]'`, port)

	if err := e.Start(port); err != nil {
		log.Fatal("failed to start server: ", err)
	}
}
