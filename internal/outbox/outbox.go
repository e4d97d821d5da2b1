package outbox

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"TrendSentinel/internal/model"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// FileOutbox appends order intents to a JSON-lines file. Downstream order
// placement tails the file; nothing here talks to a broker.
type FileOutbox struct {
	mu       sync.Mutex
	filePath string
	now      func() time.Time
}

// NewFileOutbox creates the parent directory if needed.
func NewFileOutbox(filePath string) (*FileOutbox, error) {
	if dir := filepath.Dir(filePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create outbox dir: %w", err)
		}
	}
	return &FileOutbox{filePath: filePath, now: time.Now}, nil
}

// Submit stamps the intent with an id and creation time and appends it.
func (o *FileOutbox) Submit(_ context.Context, intent model.OrderIntent) (model.OrderIntent, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if intent.ID == "" {
		intent.ID = uuid.NewString()
	}
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = o.now()
	}
	data, err := json.Marshal(intent)
	if err != nil {
		return intent, err
	}

	f, err := os.OpenFile(o.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return intent, err
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return intent, err
	}

	log.Info().
		Str("id", intent.ID).
		Str("symbol", intent.Symbol).
		Str("side", string(intent.Side)).
		Str("trigger", intent.TriggerPrice.String()).
		Msg("order intent queued")
	return intent, nil
}

// List reads every intent in the outbox. A missing file yields an empty list.
func (o *FileOutbox) List() ([]model.OrderIntent, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	data, err := os.ReadFile(o.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []model.OrderIntent
	sc := bufio.NewScanner(bytes.NewReader(data))
	for line := 1; sc.Scan(); line++ {
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var in model.OrderIntent
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, fmt.Errorf("outbox line %d: %w", line, err)
		}
		out = append(out, in)
	}
	return out, sc.Err()
}
