package notifier

import (
	"context"
	"time"

	"remindbot/internal/engine"
	"remindbot/internal/relay"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
	"remindbot/pkg/tgui"
)

const replyTimeout = 5 * time.Second

// HandleAction maps alert keyboard presses to relay events. Presses that
// settle the alert (got it, snooze) also strip its keyboard; presses on
// other messages are acknowledged and ignored.
func (s *Service) HandleAction(ctx context.Context, act kit.Action) {
	id, action, ok := tgui.ParseData(act.Data, callbackPrefix)
	if !ok || !engine.ValidReminderID(id) {
		s.answer(ctx, act.CallbackID, "")
		return
	}

	ev := relay.Event{AlertID: engine.PrimaryID(id), At: s.now()}
	reply := "OK"
	if action == actionOpen {
		ev.Kind = relay.KindActivated
	} else {
		ev.Kind = relay.KindActionChosen
		ev.Action = action
		if a, err := relay.ParseAction(action); err == nil && a.Snooze {
			reply = "Snoozed " + snoozeLabel(a.Minutes)
		}
	}
	s.answer(ctx, act.CallbackID, reply)
	if ev.Kind == relay.KindActionChosen && act.Message.MessageID != 0 {
		s.clearKeyboard(ctx, act.Message)
	}
	s.log.Debug("alert action", logx.String("reminder", id), logx.String("kind", string(ev.Kind)), logx.String("action", action))
	s.emit(ctx, ev)
}

func (s *Service) answer(ctx context.Context, callbackID, text string) {
	if s.adapter == nil || callbackID == "" {
		return
	}
	c, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()
	if err := s.adapter.AnswerCallback(c, callbackID, text); err != nil {
		s.log.Debug("answer callback failed", logx.Err(err))
	}
}

func (s *Service) clearKeyboard(ctx context.Context, ref kit.MessageRef) {
	if s.adapter == nil {
		return
	}
	c, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()
	if err := s.adapter.ClearKeyboard(c, ref); err != nil {
		s.log.Debug("clear keyboard failed", logx.Int("message", ref.MessageID), logx.Err(err))
	}
}
