package progress

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/poiesic/ragcore/core"
)

// SubjectPrefix is the first token of every progress subject.
const SubjectPrefix = "ragcore.progress"

// Sink receives every published progress message as JSON. *nats.Conn
// satisfies Sink.
type Sink interface {
	Publish(subject string, data []byte) error
}

var _ Sink = (*nats.Conn)(nil)

var subjectReplacer = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_")

// Subject returns the subject a session's messages are published on:
//
//	ragcore.progress.{project_id}.{session_id}
//
// Subscribers can watch a whole project with ragcore.progress.{project_id}.*
func Subject(projectID, sessionID string) string {
	return SubjectPrefix + "." + subjectToken(projectID) + "." + subjectToken(sessionID)
}

func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return subjectReplacer.Replace(s)
}

// ConnectNATS connects to a NATS server for use as a Sink. The connection
// keeps retrying in the background if the server is not yet reachable.
func ConnectNATS(url string, logger *slog.Logger) (*nats.Conn, error) {
	if url == "" {
		return nil, ErrNATSURLRequired
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "progress-nats")

	nc, err := nats.Connect(url,
		nats.Name("ragcore"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("disconnected from nats", "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("reconnected to nats", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, core.NewError(core.KindConnection, fmt.Sprintf("connect to nats at %s", url), err)
	}
	logger.Info("connected to nats", "url", url)
	return nc, nil
}
