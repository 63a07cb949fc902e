package textline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"webradio/config"
	"webradio/station"

	"github.com/warthog618/modem/at"
	"github.com/warthog618/modem/gsm"
	"github.com/warthog618/modem/serial"
)

// signalInterval is how often the modem signal quality is logged
const signalInterval = time.Minute

// Annotator records listener messages on the running show
type Annotator interface {
	AnnotateListenerMessage(from, text string) error
}

// ModemManager receives listener text messages through a GSM modem and
// records them on the show that is on air.
type ModemManager struct {
	config    config.ModemConfig
	annotator Annotator
	gsm       *gsm.GSM
	port      io.Closer
	logger    *slog.Logger
	wg        sync.WaitGroup
	cancel    context.CancelFunc
}

// NewModemManager creates a new ModemManager instance
func NewModemManager(cfg config.ModemConfig, annotator Annotator) *ModemManager {
	return &ModemManager{
		config:    cfg,
		annotator: annotator,
		logger:    slog.With("component", "modem"),
	}
}

// Initialize sets up the GSM modem connection
func (m *ModemManager) Initialize() error {
	m.logger.Info("Initializing modem",
		slog.String("device", m.config.Device),
		slog.Int("baud", m.config.Baud))

	serialModem, err := serial.New(
		serial.WithPort(m.config.Device),
		serial.WithBaud(m.config.Baud),
	)
	if err != nil {
		return fmt.Errorf("failed to create serial connection: %w", err)
	}

	var mio io.ReadWriter = serialModem

	m.gsm = gsm.New(at.New(mio,
		at.WithTimeout(m.config.Timeout),
		at.WithCmds("I")))

	if err := m.gsm.Init(); err != nil {
		serialModem.Close()
		return fmt.Errorf("failed to initialize modem: %w", err)
	}
	m.port = serialModem

	m.logger.Info("Modem initialized successfully")
	return nil
}

// Start begins listening for incoming messages and polling the signal
func (m *ModemManager) Start(ctx context.Context) error {
	m.logger.Info("Starting SMS message reception")

	if err := m.gsm.StartMessageRx(m.handleMessage, m.handleError); err != nil {
		return fmt.Errorf("failed to start message reception: %w", err)
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.pollSignalQuality(ctx)
	}()

	m.logger.Info("SMS message reception started")
	return nil
}

// Stop ends message reception and closes the serial port
func (m *ModemManager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	if m.gsm != nil {
		m.gsm.StopMessageRx()
	}
	if m.port != nil {
		m.port.Close()
	}
}

// Closed returns a channel that's closed when the modem connection is lost
func (m *ModemManager) Closed() <-chan struct{} {
	if m.gsm != nil {
		return m.gsm.Closed()
	}
	return nil
}

func (m *ModemManager) handleMessage(msg gsm.Message) {
	text := strings.TrimSpace(msg.Message)
	if text == "" {
		return
	}

	m.logger.Info("Listener message received",
		slog.String("from", msg.Number),
		slog.Int("length", len(text)))

	err := m.annotator.AnnotateListenerMessage(msg.Number, text)
	switch {
	case err == nil:
	case errors.Is(err, station.ErrNoShow):
		m.logger.Info("Off air, listener message not recorded", slog.String("from", msg.Number))
	default:
		m.logger.Error("Failed to record listener message",
			slog.String("from", msg.Number),
			slog.Any("error", err))
	}
}

func (m *ModemManager) handleError(err error) {
	m.logger.Warn("SMS reception error", slog.Any("error", err))
}

// pollSignalQuality logs the modem signal quality every signalInterval
func (m *ModemManager) pollSignalQuality(ctx context.Context) {
	ticker := time.NewTicker(signalInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			i, err := m.gsm.Command("+CSQ")
			if err != nil {
				m.logger.Warn("Failed to read signal quality", slog.Any("error", err))
			} else {
				m.logger.Debug("Signal quality", slog.Any("csq", i))
			}
		case <-m.gsm.Closed():
			m.logger.Error("Modem connection lost")
			return
		case <-ctx.Done():
			return
		}
	}
}
