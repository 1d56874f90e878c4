package cmds

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/go-go-golems/chatmirror/pkg/conversation"
	"github.com/go-go-golems/chatmirror/pkg/events"
	"github.com/go-go-golems/chatmirror/pkg/mirror"
	"github.com/go-go-golems/chatmirror/pkg/remote"
	"github.com/go-go-golems/chatmirror/pkg/session"
	"github.com/go-go-golems/chatmirror/pkg/settings"
	"github.com/go-go-golems/chatmirror/pkg/store"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

const closeTimeout = 10 * time.Second

// App bundles everything a command needs. It is restored from the local
// mirror on creation and written back by Close.
type App struct {
	Settings *settings.Settings
	Mirror   mirror.Mirror
	Session  *session.Session
	Client   *remote.Client
	Store    *store.Store
	Registry *prometheus.Registry

	pubSub   *gochannel.GoChannel
	eventLog *lumberjack.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

func loadSettings() (*settings.Settings, error) {
	s, err := settings.FromViper(viper.GetViper())
	if err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return s, nil
}

func NewApp(ctx context.Context) (*App, error) {
	s, err := loadSettings()
	if err != nil {
		return nil, err
	}
	return NewAppFromSettings(ctx, s)
}

func NewAppFromSettings(ctx context.Context, s *settings.Settings) (*App, error) {
	s = s.Clone()

	m, err := mirror.Open(ctx, s.Mirror)
	if err != nil {
		return nil, errors.Wrap(err, "could not open mirror")
	}

	sess := session.New()
	if _, err := sess.Load(ctx, m); err != nil {
		log.Warn().Err(err).Msg("could not restore session, starting signed out")
	}

	reg := prometheus.NewRegistry()
	metrics, err := remote.NewMetrics(reg)
	if err != nil {
		_ = m.Close()
		return nil, err
	}

	client, err := remote.NewClient(
		s.Remote.BaseURL,
		remote.WithTokenSource(sess),
		remote.WithMetrics(metrics),
		remote.WithTimeout(s.Remote.Timeout),
		remote.WithInsecureSkipVerify(s.Remote.InsecureSkipVerify),
		remote.WithUserAgent(s.Remote.UserAgent),
	)
	if err != nil {
		_ = m.Close()
		return nil, err
	}

	app := &App{
		Settings: s,
		Mirror:   m,
		Session:  sess,
		Client:   client,
		Registry: reg,
		done:     make(chan struct{}),
	}

	publisher, err := app.startEventLog(ctx)
	if err != nil {
		_ = m.Close()
		return nil, err
	}

	options := []store.Option{
		store.WithDefaultTitle(s.Store.DefaultTitle),
		store.WithMaxInflight(s.Store.MaxInflight),
		store.WithSyncTimeout(s.Store.SyncTimeout),
		store.WithPublisher(publisher),
	}
	if ids, ok := conversation.NewIDGenerator(s.Store.IDScheme); ok {
		options = append(options, store.WithIDGenerator(ids))
	}
	if s.Store.ParseThinking {
		policy, _ := conversation.ParseMalformedPolicy(s.Store.MalformedThinking)
		options = append(options, store.WithParser(conversation.NewParser(conversation.WithMalformedPolicy(policy))))
	}
	app.Store = store.New(client, options...)

	if _, err := app.Store.Load(ctx, m); err != nil {
		log.Warn().Err(err).Msg("could not restore chat history, starting empty")
	}

	return app, nil
}

// startEventLog routes store events through an in-process watermill channel
// and logs them at debug level. With store.event-log set, every event is
// also appended to that file as a JSON line.
func (a *App) startEventLog(ctx context.Context) (*events.PublisherManager, error) {
	audit := zerolog.Nop()
	if path := a.Settings.Store.EventLog; path != "" {
		a.eventLog = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
		audit = zerolog.New(a.eventLog).With().Timestamp().Logger()
	}
	_ = audit

	a.pubSub = gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, events.NewWatermillLogger(log.Logger))

	ctx, a.cancel = context.WithCancel(ctx)
	ch, err := a.pubSub.Subscribe(ctx, events.TopicStore)
	if err != nil {
		return nil, err
	}

	pm := events.NewPublisherManager()
	pm.AddPublisher(events.TopicStore, a.pubSub)

	go func() {
		defer close(a.done)
		for msg := range ch {
			e, err := events.NewStoreEventFromMessage(msg)
			msg.Ack()
			if err != nil {
				log.Warn().Err(err).Msg("dropping store event")
				continue
			}
			l := log.Debug()
			if e.Type == events.EventSyncFailed {
				l = log.Warn()
			}
			l.Str("event", string(e.Type)).
				Str("conversation", e.ConversationID).
				Str("op", e.Op).
				Str("error", e.Error).
				Str("seq", msg.Metadata.Get(events.MetadataSequenceNumber)).
				Msg("store event")
		}
	}()

	return pm, nil
}

// Close waits for pending remote calls, persists store and session and
// releases the mirror.
func (a *App) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if err := a.Store.Close(ctx); err != nil {
		log.Warn().Err(err).Msg("gave up waiting for pending requests")
	}
	keep(errors.Wrap(a.Store.Save(ctx, a.Mirror), "could not save chat history"))
	keep(errors.Wrap(a.Session.Save(ctx, a.Mirror), "could not save session"))
	keep(a.Mirror.Close())

	a.cancel()
	keep(a.pubSub.Close())
	<-a.done
	if a.eventLog != nil {
		keep(a.eventLog.Close())
	}

	return firstErr
}
