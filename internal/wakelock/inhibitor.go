package wakelock

import (
	"context"
	"fmt"
	"time"

	"ReminderNotifier/internal/domain"
	"github.com/coreos/go-systemd/v22/login1"
)

const (
	inhibitWhat = "sleep:idle"
	inhibitMode = "block"
)

// Inhibitor берет блокировку сна у systemd-logind.
type Inhibitor struct {
	conn *login1.Conn
	who  string
}

// NewInhibitor подключается к logind по системной шине.
func NewInhibitor(who string) (*Inhibitor, error) {
	conn, err := login1.New()
	if err != nil {
		return nil, fmt.Errorf("connect to logind: %w", err)
	}
	return &Inhibitor{conn: conn, who: who}, nil
}

// Acquire берет блокировку; она снимается закрытием полученного дескриптора.
func (i *Inhibitor) Acquire(ctx context.Context, tag string, timeout time.Duration) (domain.WakeHold, error) {
	fd, err := i.conn.Inhibit(inhibitWhat, i.who, tag, inhibitMode)
	if err != nil {
		return nil, fmt.Errorf("inhibit %s: %w", inhibitWhat, err)
	}
	return newHold(ctx, tag, timeout, fd.Close), nil
}

// Close закрывает соединение с шиной.
func (i *Inhibitor) Close() {
	i.conn.Close()
}
