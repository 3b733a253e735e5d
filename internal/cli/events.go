package cli

import (
	"log/slog"

	"douyin-harvester/internal/events"
	"douyin-harvester/internal/logx"
)

// printEvents 把事件写入日志，done 关闭后清空剩余事件再返回。
func printEvents(sub *events.Subscription, done <-chan struct{}) {
	log := logx.For("events")
	for {
		select {
		case e, ok := <-sub.C:
			if !ok {
				return
			}
			logEvent(log, e)
		case <-done:
			for {
				select {
				case e, ok := <-sub.C:
					if !ok {
						return
					}
					logEvent(log, e)
				default:
					if n := sub.Dropped(); n > 0 {
						log.Warn("事件订阅缓冲区满，部分事件被丢弃", "dropped", n)
					}
					return
				}
			}
		}
	}
}

func logEvent(log *slog.Logger, e events.Event) {
	args := []any{"service", e.Service}
	for k, v := range e.Data {
		args = append(args, k, v)
	}
	switch e.Type {
	case events.Error:
		log.Error(e.Message, args...)
	case events.Warning:
		log.Warn(e.Message, args...)
	case events.Debug:
		log.Debug(e.Message, args...)
	default:
		log.Info(e.Message, args...)
	}
}
