package inbox

import (
	"bufio"
	"context"
	"io"
	"strings"
	"time"

	"github.com/tbxark/stepform/types"
)

// Pump publishes every line read from r to the hub as an input from author in
// conversation. It returns when r is exhausted or ctx is done.
func Pump(ctx context.Context, r io.Reader, hub *Hub, conversationID, authorID string) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		hub.Publish(types.Input{
			ConversationID: conversationID,
			AuthorID:       authorID,
			Content:        strings.TrimRight(scanner.Text(), "\r"),
			ReceivedAt:     time.Now(),
		})
	}
	return scanner.Err()
}
