// Package bridge connects a Paradox panel session to an MQTT broker,
// publishing zone and area changes as retained state topics and accepting
// arm/disarm commands back over subscriptions. The topic layout and
// payload vocabulary follow the Home Assistant MQTT alarm panel and
// binary sensor conventions.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ip150-bridge/backend/internal/config"
	"github.com/ip150-bridge/backend/internal/panel"
)

// Broker is the MQTT surface the bridge needs. Connect blocks until the
// session is established and invokes onConnect on every (re)connect.
type Broker interface {
	Connect(onConnect func()) error
	Publish(topic, payload string, retained bool) error
	Subscribe(topic string, handler func(topic, payload string)) error
	Disconnect()
}

type panelSession interface {
	Login(ctx context.Context, user, password string, keepaliveInterval time.Duration) error
	Logout(ctx context.Context) error
	StartPolling(onUpdate panel.UpdateFunc, onError panel.ErrorFunc, interval time.Duration) error
	StopPolling() error
	SetAreaAction(ctx context.Context, area int, action panel.Action) error
}

// Area states publish as alarm panel states; states with no entry stay
// unpublished.
var areaPayloads = map[panel.AreaState]string{
	panel.AreaDisarmed:   "disarmed",
	panel.AreaArmed:      "armed_away",
	panel.AreaTriggered:  "triggered",
	panel.AreaArmedSleep: "armed_night",
	panel.AreaArmedStay:  "armed_home",
	panel.AreaEntryDelay: "pending",
	panel.AreaExitDelay:  "arming",
	panel.AreaReady:      "disarmed",
}

// Zone states publish as binary sensor payloads.
var zonePayloads = map[panel.ZoneState]string{
	panel.ZoneClosed:         "off",
	panel.ZoneOpen:           "on",
	panel.ZoneInAlarm:        "on",
	panel.ZoneClosedTrouble:  "off",
	panel.ZoneOpenTrouble:    "on",
	panel.ZoneClosedMemory:   "off",
	panel.ZoneOpenMemory:     "on",
	panel.ZoneBypass:         "off",
	panel.ZoneClosedTrouble2: "off",
	panel.ZoneOpenTrouble2:   "on",
}

var alarmCommands = map[string]panel.Action{
	"DISARM":    panel.Disarm,
	"ARM_AWAY":  panel.Arm,
	"ARM_NIGHT": panel.ArmSleep,
	"ARM_HOME":  panel.ArmStay,
}

type Bridge struct {
	cfg    *config.Config
	panel  panelSession
	broker Broker
	log    zerolog.Logger

	// onDelta, when set, sees every panel delta before it is published.
	onDelta func(panel.Delta)

	shutdownOnce sync.Once
	done         chan struct{}
}

type Option func(*Bridge)

// WithDeltaHook registers an extra consumer for panel deltas, such as a
// local status broadcaster.
func WithDeltaHook(fn func(panel.Delta)) Option {
	return func(b *Bridge) { b.onDelta = fn }
}

func New(cfg *config.Config, session panelSession, broker Broker, logger zerolog.Logger, opts ...Option) *Bridge {
	b := &Bridge{
		cfg:    cfg,
		panel:  session,
		broker: broker,
		log:    logger,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run logs in to the panel, connects to the broker and blocks until the
// context is cancelled, a control message asks for disconnection, or the
// poller gives up.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.panel.Login(ctx, b.cfg.Panel.Code, b.cfg.Panel.Password, b.cfg.Panel.KeepaliveInterval); err != nil {
		return fmt.Errorf("panel login: %w", err)
	}
	b.log.Info().Str("panel", b.cfg.Panel.URL).Msg("panel session established")

	if err := b.broker.Connect(b.onBrokerConnect); err != nil {
		if lerr := b.panel.Logout(context.Background()); lerr != nil {
			b.log.Warn().Err(lerr).Msg("panel logout after failed broker connect")
		}
		return fmt.Errorf("mqtt connect: %w", err)
	}

	select {
	case <-ctx.Done():
		b.Shutdown()
	case <-b.done:
	}
	return nil
}

// onBrokerConnect runs on every broker (re)connect: it restores the
// subscriptions, announces the bridge and starts the panel poller.
func (b *Bridge) onBrokerConnect() {
	if err := b.broker.Subscribe(b.cfg.MQTT.AlarmSubscribeTopic+"/+", b.handleAlarmMessage); err != nil {
		b.log.Error().Err(err).Msg("alarm topic subscribe failed")
		b.Shutdown()
		return
	}
	if err := b.broker.Subscribe(b.cfg.MQTT.CtrlSubscribeTopic, b.handleCtrlMessage); err != nil {
		b.log.Error().Err(err).Msg("ctrl topic subscribe failed")
		b.Shutdown()
		return
	}

	if err := b.broker.Publish(b.cfg.MQTT.CtrlPublishTopic, "Connected", true); err != nil {
		b.log.Warn().Err(err).Msg("presence publish failed")
	}

	err := b.panel.StartPolling(b.publishDelta, b.onPollError, b.cfg.Panel.PollInterval)
	if err != nil && !errors.Is(err, panel.ErrPollerRunning) {
		b.log.Error().Err(err).Msg("panel poller start failed")
		b.Shutdown()
	}
}

func (b *Bridge) publishDelta(d panel.Delta) {
	if b.onDelta != nil {
		b.onDelta(d)
	}

	for _, z := range d.Zones {
		payload, ok := zonePayloads[z.State]
		if !ok {
			continue
		}
		topic := fmt.Sprintf("%s/%d", b.cfg.MQTT.ZonePublishTopic, z.Index)
		if err := b.broker.Publish(topic, payload, true); err != nil {
			b.log.Warn().Err(err).Str("topic", topic).Msg("zone publish failed")
		}
	}
	for _, a := range d.Areas {
		payload, ok := areaPayloads[a.State]
		if !ok {
			continue
		}
		topic := fmt.Sprintf("%s/%d", b.cfg.MQTT.AlarmPublishTopic, a.Index)
		if err := b.broker.Publish(topic, payload, true); err != nil {
			b.log.Warn().Err(err).Str("topic", topic).Msg("area publish failed")
		}
	}
}

func (b *Bridge) onPollError(err error) {
	b.log.Error().Err(err).Msg("panel updates lost, shutting down")
	b.Shutdown()
}

// handleAlarmMessage maps an arm/disarm command on <topic>/<area> to a
// panel action. Malformed areas and unknown commands are dropped.
func (b *Bridge) handleAlarmMessage(topic, payload string) {
	area := topic[strings.LastIndex(topic, "/")+1:]
	n, err := strconv.Atoi(area)
	if err != nil || n <= 0 {
		b.log.Debug().Str("topic", topic).Msg("ignoring command with bad area")
		return
	}

	action, ok := alarmCommands[payload]
	if !ok {
		b.log.Debug().Str("payload", payload).Msg("ignoring unknown alarm command")
		return
	}

	if err := b.panel.SetAreaAction(context.Background(), n, action); err != nil {
		b.log.Warn().Err(err).Int("area", n).Str("action", string(action)).Msg("area action failed")
	}
}

func (b *Bridge) handleCtrlMessage(topic, payload string) {
	if payload == "Disconnect" {
		b.log.Info().Msg("disconnect requested over mqtt")
		b.Shutdown()
	}
}

// Shutdown tears the bridge down in order: stop the poller, retract the
// presence topic, drop the broker and close the panel session. Safe to
// call more than once.
func (b *Bridge) Shutdown() {
	b.shutdownOnce.Do(func() {
		if err := b.panel.StopPolling(); err != nil && !errors.Is(err, panel.ErrPollerNotRunning) {
			b.log.Warn().Err(err).Msg("poller stop failed")
		}
		if err := b.broker.Publish(b.cfg.MQTT.CtrlPublishTopic, "Disconnected", true); err != nil {
			b.log.Warn().Err(err).Msg("presence retract failed")
		}
		b.broker.Disconnect()
		if err := b.panel.Logout(context.Background()); err != nil {
			b.log.Warn().Err(err).Msg("panel logout failed")
		}
		close(b.done)
	})
}
