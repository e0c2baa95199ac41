package storage

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// TranscriptMessage is one rendered conversation entry. ID is the node id
// the client uses to address the entry; streamed entries are rewritten in
// place as their text grows.
type TranscriptMessage struct {
	ID        string `json:"id,omitempty"`
	Role      string `json:"role"`
	Timestamp string `json:"timestamp"`
	Text      string `json:"text,omitempty"`
	ImageURL  string `json:"image_url,omitempty"`
}

// TranscriptInfo summarizes one stored transcript for listing.
type TranscriptInfo struct {
	SessionID     string            `json:"session_id"`
	LatestMessage TranscriptMessage `json:"latest_message"`
	Timestamp     string            `json:"timestamp"`
}

var safeNamePattern = regexp.MustCompile(`^[A-Za-z0-9_\-\.]+$`)

// AppendTranscript appends one message to the session's transcript file,
// creating it on first write.
func AppendTranscript(baseDir string, sessionID string, msg TranscriptMessage) error {
	path, err := transcriptPath(baseDir, sessionID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	messages, err := readTranscript(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if msg.Timestamp == "" {
		msg.Timestamp = time.Now().Format(time.RFC3339)
	}
	messages = append(messages, msg)
	return writeTranscript(path, messages)
}

// UpdateTranscriptText rewrites the text of the message with messageID in
// the session's transcript, so streamed entries end up stored with their
// final content.
func UpdateTranscriptText(baseDir string, sessionID string, messageID string, text string) error {
	if messageID == "" {
		return errors.New("transcript message id is empty")
	}
	path, err := transcriptPath(baseDir, sessionID)
	if err != nil {
		return err
	}
	messages, err := readTranscript(path)
	if err != nil {
		return err
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].ID == messageID {
			messages[i].Text = text
			return writeTranscript(path, messages)
		}
	}
	return errors.New("transcript message not found")
}

// GetTranscript returns all messages of one session in append order.
func GetTranscript(baseDir string, sessionID string) ([]TranscriptMessage, error) {
	path, err := transcriptPath(baseDir, sessionID)
	if err != nil {
		return nil, err
	}
	return readTranscript(path)
}

// DeleteTranscript removes one session's transcript file.
func DeleteTranscript(baseDir string, sessionID string) bool {
	path, err := transcriptPath(baseDir, sessionID)
	if err != nil {
		return false
	}
	if _, err := os.Stat(path); err != nil {
		return false
	}
	return os.Remove(path) == nil
}

// ListTranscripts returns a newest-first summary of every stored transcript.
func ListTranscripts(baseDir string) []TranscriptInfo {
	list := []TranscriptInfo{}
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return list
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		sessionID := strings.TrimSuffix(entry.Name(), ".json")
		messages, err := readTranscript(filepath.Join(baseDir, entry.Name()))
		if err != nil || len(messages) == 0 {
			continue
		}
		latest := messages[len(messages)-1]
		list = append(list, TranscriptInfo{
			SessionID:     sessionID,
			LatestMessage: latest,
			Timestamp:     latest.Timestamp,
		})
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].Timestamp > list[j].Timestamp
	})

	return list
}

func transcriptPath(baseDir string, sessionID string) (string, error) {
	if baseDir == "" {
		return "", errors.New("transcripts base dir is empty")
	}
	if !safeNamePattern.MatchString(sessionID) {
		return "", errors.New("invalid session id")
	}
	return filepath.Join(baseDir, sessionID+".json"), nil
}

func readTranscript(path string) ([]TranscriptMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var messages []TranscriptMessage
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func writeTranscript(path string, messages []TranscriptMessage) error {
	data, err := json.MarshalIndent(messages, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
