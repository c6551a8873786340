package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProducer_DeliversAndReportsErrors(t *testing.T) {
	mock := mocks.NewAsyncProducer(t, NewSaramaConfig())
	mock.ExpectInputAndSucceed()
	mock.ExpectInputAndFail(sarama.ErrOutOfBrokers)

	var (
		mu     sync.Mutex
		failed []error
	)
	p := NewProducer(mock, func(_ *sarama.ProducerMessage, err error) {
		mu.Lock()
		defer mu.Unlock()
		failed = append(failed, err)
	})

	ctx := context.Background()
	require.NoError(t, p.SendMessage(ctx, "topic", []byte("k"), []byte("ok")))
	require.NoError(t, p.SendMessage(ctx, "topic", []byte("k"), []byte("fail")))
	require.NoError(t, p.Close())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, failed, 1)
	assert.True(t, errors.Is(failed[0], sarama.ErrOutOfBrokers))
}

func TestProducer_SendAfterClose(t *testing.T) {
	mock := mocks.NewAsyncProducer(t, NewSaramaConfig())
	p := NewProducer(mock, nil)
	require.NoError(t, p.Close())

	err := p.SendMessage(context.Background(), "topic", nil, []byte("late"))
	assert.ErrorIs(t, err, ErrProducerClosed)
}
