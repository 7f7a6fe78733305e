package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ErrNotSaveEligible marks rooms whose id admits relaying but carries no
// file path to save to.
var ErrNotSaveEligible = errors.New("room is not save eligible")

// SaveError carries the upstream response or transport failure of a
// persistence call.
type SaveError struct {
	Status     int
	StatusText string
	Err        error
}

func (e *SaveError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("save failed: %v", e.Err)
	}
	return fmt.Sprintf("save failed: %d %s", e.Status, e.StatusText)
}

func (e *SaveError) Unwrap() error { return e.Err }

type SaveResult struct {
	RoomID       string `json:"roomId"`
	RepositoryID int64  `json:"repositoryId"`
	FilePath     string `json:"filePath"`
	Bytes        int    `json:"bytes"`
}

type savePayload struct {
	FilePath string `json:"filePath"`
	Content  string `json:"content"`
	Source   string `json:"source"`
}

// SaveTrigger persists a code-editor room's current text over HTTP. It
// is never invoked by the relay on its own; callers (the admin endpoint,
// external schedulers) decide when a save happens.
type SaveTrigger struct {
	baseURL string
	docs    *DocumentRegistry
	client  *http.Client
	log     *zap.Logger
}

func NewSaveTrigger(cfg *Config, docs *DocumentRegistry, log *zap.Logger) *SaveTrigger {
	return &SaveTrigger{
		baseURL: cfg.APIBaseURL,
		docs:    docs,
		client:  &http.Client{Timeout: 15 * time.Second},
		log:     log,
	}
}

// SaveRoom reads the room's replica text and PUTs it to the repository
// file-content endpoint. The call is not retried.
func (s *SaveTrigger) SaveRoom(ctx context.Context, roomID string) (*SaveResult, error) {
	target, ok := ParseSaveTarget(roomID)
	if !ok {
		return nil, ErrNotSaveEligible
	}
	content := s.docs.ReadText(roomID)

	body, err := json.Marshal(savePayload{
		FilePath: target.FilePath,
		Content:  content,
		Source:   "yjs-collaboration",
	})
	if err != nil {
		return nil, &SaveError{Err: err}
	}

	url := fmt.Sprintf("%s/repositories/%d/files/content", s.baseURL, target.RepositoryID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return nil, &SaveError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &SaveError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &SaveError{Status: resp.StatusCode, StatusText: resp.Status}
	}
	s.log.Info("room saved",
		zap.String("room", roomID),
		zap.Int64("repository", target.RepositoryID),
		zap.String("filePath", target.FilePath),
		zap.Int("bytes", len(content)))
	return &SaveResult{
		RoomID:       roomID,
		RepositoryID: target.RepositoryID,
		FilePath:     target.FilePath,
		Bytes:        len(content),
	}, nil
}
