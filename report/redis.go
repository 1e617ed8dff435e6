package report

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/garyburd/redigo/redis"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-eval/evaluate"
)

// ConnGetter hands out pooled connections. *redis.Pool satisfies it.
type ConnGetter interface {
	Get() redis.Conn
}

// Redis stores metrics in Redis so a dashboard can follow training progress.
//
// Scalars are kept in one hash per metric, field = step:
//
//	HSET <prefix>:<name> <step> <value>
//
// Curves are stored as JSON under one key per step:
//
//	SET <prefix>:<name>:<step> <json>
type Redis struct {
	pool   ConnGetter
	prefix string
}

// NewRedis creates a Redis sink on an existing pool.
func NewRedis(pool ConnGetter, prefix string) *Redis {
	return &Redis{pool: pool, prefix: prefix}
}

// NewRedisPool dials address on demand with at most maxActive connections.
func NewRedisPool(address string, maxActive int) *redis.Pool {
	return &redis.Pool{
		MaxIdle:     maxActive,
		MaxActive:   maxActive,
		IdleTimeout: time.Minute,
		Dial: func() (redis.Conn, error) {
			c, err := redis.Dial("tcp", address)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to dial redis at %s", address)
			}
			return c, nil
		},
	}
}

func (r *Redis) key(name string) string {
	if r.prefix == "" {
		return name
	}
	return r.prefix + ":" + name
}

// Scalar implements evaluate.Sink.
func (r *Redis) Scalar(name string, value float64, step int) error {
	conn := r.pool.Get()
	defer conn.Close()

	if _, err := conn.Do("HSET", r.key(name), step, value); err != nil {
		return errors.Wrapf(err, "failed to store %s", name)
	}
	return nil
}

// PRCurve implements evaluate.Sink.
func (r *Redis) PRCurve(name string, curve evaluate.PRCurve, step int) error {
	data, err := json.Marshal(curve)
	if err != nil {
		return errors.Wrapf(err, "failed to encode %s", name)
	}

	conn := r.pool.Get()
	defer conn.Close()

	if _, err := conn.Do("SET", fmt.Sprintf("%s:%d", r.key(name), step), data); err != nil {
		return errors.Wrapf(err, "failed to store %s", name)
	}
	return nil
}

// Close releases the pool when it is owned by the sink.
func (r *Redis) Close() error {
	if p, ok := r.pool.(*redis.Pool); ok {
		return p.Close()
	}
	return nil
}

// ScalarHistory reads back every recorded step of a scalar.
func (r *Redis) ScalarHistory(name string) (map[int]float64, error) {
	conn := r.pool.Get()
	defer conn.Close()

	values, err := redis.StringMap(conn.Do("HGETALL", r.key(name)))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", name)
	}

	out := make(map[int]float64, len(values))
	for field, raw := range values {
		var step int
		var value float64
		if _, err := fmt.Sscan(field, &step); err != nil {
			return nil, errors.Wrapf(err, "bad step %q in %s", field, name)
		}
		if _, err := fmt.Sscan(raw, &value); err != nil {
			return nil, errors.Wrapf(err, "bad value %q in %s", raw, name)
		}
		out[step] = value
	}
	return out, nil
}
