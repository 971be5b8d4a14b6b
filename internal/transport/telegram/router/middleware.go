package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	logx "remindbot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain wraps h so that m[0] runs first.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			c, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(c, req)
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					req.logger(log).Error("panic recovered", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			d := time.Since(start)

			l := req.logger(log)
			fields := []logx.Field{logx.Int64("chat_id", req.Chat.ChatID), logx.Int64("from_id", req.FromID), logx.Duration("dur", d)}
			switch {
			case err != nil:
				l.Warn("command failed", append(fields, logx.Err(err))...)
			case d >= 750*time.Millisecond:
				l.Info("command ok", fields...)
			default:
				l.Debug("command ok", fields...)
			}
			return err
		}
	}
}

// MWReplyError tells the user why a command failed.
func MWReplyError() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			err := next(ctx, req)
			if err != nil && ctx.Err() == nil {
				_ = req.Reply(ctx, "⚠️ "+err.Error())
			}
			return err
		}
	}
}
