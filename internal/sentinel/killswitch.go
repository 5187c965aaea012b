package sentinel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const killSwitchKey = "trading:killswitch"

// KillSwitch is a Redis-backed manual halt shared between the trading loop
// and the ops CLI. With no Redis configured it reads as disengaged.
type KillSwitch struct {
	rdb *redis.Client
}

func NewKillSwitch(rdb *redis.Client) *KillSwitch {
	return &KillSwitch{rdb: rdb}
}

// Engaged reports whether the switch is set, along with the recorded reason.
func (k *KillSwitch) Engaged(ctx context.Context) (bool, string, error) {
	if k.rdb == nil {
		return false, "", nil
	}
	reason, err := k.rdb.Get(ctx, killSwitchKey).Result()
	if errors.Is(err, redis.Nil) {
		return false, "", nil
	}
	if err != nil {
		return false, "", fmt.Errorf("kill switch read: %w", err)
	}
	return true, reason, nil
}

// Engage sets the switch. It persists until released.
func (k *KillSwitch) Engage(ctx context.Context, reason string) error {
	if k.rdb == nil {
		return errors.New("kill switch requires redis")
	}
	if reason == "" {
		reason = "engaged " + time.Now().UTC().Format(time.RFC3339)
	}
	if err := k.rdb.Set(ctx, killSwitchKey, reason, 0).Err(); err != nil {
		return fmt.Errorf("kill switch engage: %w", err)
	}
	return nil
}

// Release clears the switch.
func (k *KillSwitch) Release(ctx context.Context) error {
	if k.rdb == nil {
		return errors.New("kill switch requires redis")
	}
	if err := k.rdb.Del(ctx, killSwitchKey).Err(); err != nil {
		return fmt.Errorf("kill switch release: %w", err)
	}
	return nil
}
