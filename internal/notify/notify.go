// Package notify forwards job failures to an operator Telegram chat. It is
// send-only: the bot never polls for updates.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"herobot/internal/eventbus"
	rtsup "herobot/internal/runtime/supervisor"
	"herobot/internal/sched"
	logx "herobot/pkg/logx"
)

const telegramTextLimit = 4000

type Config struct {
	Enabled bool
	Token   string
	ChatID  int64

	// RatePerMin caps outgoing messages; bursts beyond it are dropped
	// with a periodic summary instead of flooding the chat.
	RatePerMin int
}

type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	bot     *tele.Bot
	limiter *rate.Limiter
	sup     *rtsup.Supervisor
	unsub   func()

	dropped uint64
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) (*Service, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{cfg: cfg, log: log, bus: bus}
	if !cfg.Enabled {
		return s, nil
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("notify: telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, fmt.Errorf("notify: chat_id is required")
	}
	perMin := cfg.RatePerMin
	if perMin <= 0 {
		perMin = 20
	}
	bot, err := tele.NewBot(tele.Settings{Token: cfg.Token, Offline: false})
	if err != nil {
		return nil, fmt.Errorf("notify: %w", err)
	}
	s.bot = bot
	s.limiter = rate.NewLimiter(rate.Limit(float64(perMin)/60.0), perMin/4+1)
	return s, nil
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled && s.bot != nil
}

// Start subscribes to the event bus and forwards failure events until Stop.
func (s *Service) Start(ctx context.Context) {
	if !s.Enabled() {
		return
	}
	s.mu.Lock()
	if s.sup != nil {
		s.mu.Unlock()
		return
	}
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "notify"))),
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	ch, unsub := s.bus.Subscribe(64)
	s.unsub = unsub
	s.mu.Unlock()

	sup.Go0("events", func(c context.Context) {
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-ch:
				if !ok {
					return
				}
				s.handle(c, e)
			}
		}
	})
	s.log.Info("failure notifications enabled")
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	unsub := s.unsub
	s.unsub = nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if sup != nil {
		sup.Cancel()
		_ = sup.Wait(ctx)
	}
}

func (s *Service) handle(ctx context.Context, e eventbus.Event) {
	if e.Type != eventbus.TypeJobFailed {
		return
	}
	text := formatEvent(e)
	if text == "" {
		return
	}
	if !s.limiter.Allow() {
		s.mu.Lock()
		s.dropped++
		n := s.dropped
		s.mu.Unlock()
		if n%10 == 1 {
			s.log.Warn("failure notifications rate limited", logx.Uint64("dropped", n))
		}
		return
	}
	if err := s.send(ctx, text); err != nil {
		s.log.Warn("failure notification not delivered", logx.Err(err))
	}
}

// SendLogLine lets the logging layer reuse this bot as its Telegram sink.
func (s *Service) SendLogLine(text string) {
	if !s.Enabled() {
		return
	}
	_ = s.send(context.Background(), text)
}

func (s *Service) send(ctx context.Context, text string) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	if len([]rune(text)) > telegramTextLimit {
		text = string([]rune(text)[:telegramTextLimit])
	}
	s.mu.Lock()
	bot := s.bot
	chatID := s.cfg.ChatID
	s.mu.Unlock()
	if bot == nil {
		return nil
	}
	_, err := bot.Send(&tele.Chat{ID: chatID}, text, &tele.SendOptions{DisableWebPagePreview: true})
	return err
}

func formatEvent(e eventbus.Event) string {
	d, ok := e.Data.(sched.JobEvent)
	if !ok {
		return fmt.Sprintf("❌ job failed at %s: %+v", e.Time.Format(time.RFC3339), e.Data)
	}
	name := d.JobName
	if name == "" {
		name = d.JobID
	}
	return fmt.Sprintf("❌ %s failed for %s after %s\n%s",
		name, d.Username, d.Duration.Round(time.Second), d.Error)
}
