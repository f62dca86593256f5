package main

import (
	"log/slog"

	"github.com/baharkarakas/payflow/internal/config"
	"github.com/baharkarakas/payflow/internal/notify"
	repo "github.com/baharkarakas/payflow/internal/repository"
)

// newNotifier wires the dispatcher the way serve runs it: with a broker
// every notification is published and devices are resolved downstream;
// without one deliveries are only logged. The returned func releases the
// broker connection.
func newNotifier(cfg config.Config, notes repo.Notifications, log *slog.Logger) (*notify.Dispatcher, func(), error) {
	var transport notify.Transport = notify.LogTransport{Log: log}
	closeFn := func() {}
	if cfg.AMQPURL != "" {
		t, err := notify.DialAMQP(cfg.AMQPURL, cfg.NotifyExchange, log)
		if err != nil {
			return nil, nil, err
		}
		transport = t
		closeFn = t.Close
	}
	return notify.NewDispatcher(notes, transport, notify.StaticTokens{}, log), closeFn, nil
}
