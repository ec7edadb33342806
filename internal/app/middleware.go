package app

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"wavebot/internal/transport"
	"wavebot/pkg/logx"
)

type Middleware func(HandlerFunc) HandlerFunc

// Chain wraps h so that mw[0] runs outermost.
func Chain(h HandlerFunc, mw ...Middleware) HandlerFunc {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

func MWPanicRecover() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, env *Env, msg *transport.Message, args []string) (err error) {
			defer func() {
				if r := recover(); r != nil {
					env.Log.Error("handler panicked",
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())))
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, env, msg, args)
		}
	}
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, env *Env, msg *transport.Message, args []string) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, env, msg, args)
		}
	}
}

type CallbackMiddleware func(CallbackFunc) CallbackFunc

// ChainCallback wraps h so that mw[0] runs outermost.
func ChainCallback(h CallbackFunc, mw ...CallbackMiddleware) CallbackFunc {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

func CBPanicRecover() CallbackMiddleware {
	return func(next CallbackFunc) CallbackFunc {
		return func(ctx context.Context, env *Env, cb *transport.Callback) (err error) {
			defer func() {
				if r := recover(); r != nil {
					env.Log.Error("callback panicked",
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())))
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, env, cb)
		}
	}
}

func CBTimeout(d time.Duration) CallbackMiddleware {
	return func(next CallbackFunc) CallbackFunc {
		return func(ctx context.Context, env *Env, cb *transport.Callback) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, env, cb)
		}
	}
}

func MWRequestLog() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, env *Env, msg *transport.Message, args []string) error {
			start := time.Now()
			err := next(ctx, env, msg, args)
			env.Log.Debug("command handled",
				logx.Int64("user_id", msg.FromID),
				logx.String("text", msg.Text),
				logx.Duration("took", time.Since(start)),
				logx.Err(err))
			return err
		}
	}
}
