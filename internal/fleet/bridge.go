package fleet

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Trivenidigital/Vizora-sub012/internal/infrastructure/mqtt"
	"github.com/Trivenidigital/Vizora-sub012/internal/protocol"
)

const bridgeCommandTimeout = 5 * time.Second

// Subscriber is the subscribe half of the MQTT client.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// SubscribeCommands lets other services command a display by publishing a
// JSON Command to {prefix}/display/{id}/command. Each message goes through
// SendCommand, so connected displays receive it immediately.
func (s *Service) SubscribeCommands(sub Subscriber, topics mqtt.Topics) error {
	return sub.Subscribe(topics.AllDisplayCommands(), 1, s.commandHandler(topics))
}

func (s *Service) commandHandler(topics mqtt.Topics) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		displayID, kind, ok := topics.ParseDisplayTopic(topic)
		if !ok || kind != mqtt.KindCommand {
			return fmt.Errorf("%w: unexpected topic %q", ErrInvalid, topic)
		}

		var cmd protocol.Command
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return fmt.Errorf("%w: decoding command: %w", ErrInvalid, err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), bridgeCommandTimeout)
		defer cancel()

		_, err := s.SendCommand(ctx, displayID, cmd)
		return err
	}
}
