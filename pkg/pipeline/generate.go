package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
)

const (
	streamDataPrefix   = "data: "
	streamDoneSentinel = "[DONE]"
)

// streamRecord is the decoded shape of one incremental generation record.
type streamRecord struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// StreamConsumer decodes one turn's generation byte stream into ordered
// TextDeltas. Records that do not carry the data prefix are treated as
// keep-alives; records that fail to decode are logged and skipped. A
// transport-level read failure terminates the stream with a final delta so
// downstream consumers are never left waiting.
type StreamConsumer struct {
	logger Logger
}

func NewStreamConsumer(logger Logger) *StreamConsumer {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &StreamConsumer{logger: logger}
}

// Consume reads r to completion, invoking emit for each delta in arrival
// order. The final delta has Final=true and is always delivered exactly once
// unless ctx is cancelled, after which nothing further is emitted. The
// returned error reports a transport failure; decode errors are not fatal.
func (c *StreamConsumer) Consume(ctx context.Context, r io.ReadCloser, emit func(TextDelta)) error {
	defer r.Close()

	reader := bufio.NewReader(r)
	seq := 0

	deliver := func(d TextDelta) bool {
		select {
		case <-ctx.Done():
			return false
		default:
			emit(d)
			return true
		}
	}

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				deliver(TextDelta{Seq: seq, Final: true})
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("generation stream read failed", "error", err)
			deliver(TextDelta{Seq: seq, Final: true})
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, streamDataPrefix) {
			// Keep-alive or comment record.
			continue
		}

		payload := strings.TrimPrefix(line, streamDataPrefix)
		if payload == streamDoneSentinel {
			deliver(TextDelta{Seq: seq, Final: true})
			return nil
		}

		var rec streamRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			c.logger.Warn("skipping malformed stream record", "error", err)
			continue
		}
		if len(rec.Choices) == 0 {
			continue
		}

		choice := rec.Choices[0]
		if choice.Delta.Content != "" {
			if !deliver(TextDelta{Seq: seq, Content: choice.Delta.Content}) {
				return ctx.Err()
			}
			seq++
		}
		if choice.FinishReason != "" {
			deliver(TextDelta{Seq: seq, Final: true})
			return nil
		}
	}
}
