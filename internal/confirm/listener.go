package confirm

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/netchange-gateway/internal/domain"
	"go.uber.org/zap"
)

// DecisionChannel — канал Redis, по которому консоль оператора шлет
// решения в блокирующий шлюз подтверждения
const DecisionChannel = "ncg:changes:decision-signal"

// ListenDecisions — живучая подписка на решения операторов.
// Обрабатывает переподключения: шлюз не должен глохнуть из-за
// кратковременного обрыва Redis, пока оператор жмет approve.
func ListenDecisions(ctx context.Context, rdb *redis.Client, gate *Gate, logger *zap.Logger) {
	logger = logger.Named("decision-listener")

	for {
		pubsub := rdb.Subscribe(ctx, DecisionChannel)

		// Проверка успешности подписки
		if _, err := pubsub.Receive(ctx); err != nil {
			if ctx.Err() != nil {
				pubsub.Close()
				return
			}
			logger.Error("failed to subscribe", zap.String("chan", DecisionChannel), zap.Error(err))
			time.Sleep(5 * time.Second)
			continue
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}

				var d Decision
				if err := json.Unmarshal([]byte(msg.Payload), &d); err != nil {
					logger.Error("invalid decision payload", zap.String("payload", msg.Payload), zap.Error(err))
					continue
				}

				if err := gate.Submit(d); err != nil {
					// Stale hash и пропущенный ack — штатные отказы
					// валидации, запрос остается pending
					switch {
					case errors.Is(err, domain.ErrStalePreview),
						errors.Is(err, domain.ErrImpactAckRequired),
						errors.Is(err, domain.ErrAlreadyDecided):
						logger.Warn("decision not accepted",
							zap.String("request_id", d.RequestID), zap.Error(err))
					default:
						logger.Error("decision submit failed",
							zap.String("request_id", d.RequestID), zap.Error(err))
					}
				}
			}
		}

		pubsub.Close()
		time.Sleep(1 * time.Second)
	}
}

// PublishDecision отправляет решение в канал. Используется консолью;
// вынесено сюда, чтобы формат сообщения жил в одном месте.
func PublishDecision(ctx context.Context, rdb *redis.Client, d Decision) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return rdb.Publish(ctx, DecisionChannel, payload).Err()
}
