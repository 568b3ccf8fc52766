package publisher_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/Shopify/sarama"
	saramamocks "github.com/Shopify/sarama/mocks"
	"github.com/golang/mock/gomock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejusbharadwaj/dsmr2mqtt/internal/publisher"
	"github.com/tejusbharadwaj/dsmr2mqtt/internal/publisher/mocks"
)

func TestMultiPublishesToAll(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	first := mocks.NewMockPublisher(ctrl)
	second := mocks.NewMockPublisher(ctrl)
	ctx := context.Background()

	first.EXPECT().Publish(ctx, "dsmr/reading/timestamp", "x").Return(nil)
	second.EXPECT().Publish(ctx, "dsmr/reading/timestamp", "x").
		Return(errors.Join(publisher.ErrPublish, errors.New("boom")))

	err := publisher.Multi{first, second}.Publish(ctx, "dsmr/reading/timestamp", "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, publisher.ErrPublish)

	first.EXPECT().Close()
	second.EXPECT().Close()
	publisher.Multi{first, second}.Close()
}

func TestKafkaPublisher(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	producer := saramamocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != "0.523" {
			return errors.New("unexpected payload " + string(val))
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	k := publisher.NewKafkaPublisherWithProducer(producer, "dsmr", logger)

	assert.NoError(t, k.Publish(context.Background(), "dsmr/day-consumption/electricity1", "0.523"))

	err := k.Publish(context.Background(), "dsmr/day-consumption/electricity2", "1")
	assert.ErrorIs(t, err, publisher.ErrPublish)

	k.Close()
}

func TestKafkaPublisherCanceledContext(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	producer := saramamocks.NewSyncProducer(t, nil)
	k := publisher.NewKafkaPublisherWithProducer(producer, "dsmr", logger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, k.Publish(ctx, "dsmr/reading/timestamp", "x"), publisher.ErrPublish)
	k.Close()
}

func TestKafkaPublisherConfigValidation(t *testing.T) {
	_, err := publisher.NewKafkaPublisher(publisher.KafkaConfig{Topic: "dsmr"}, logrus.New())
	assert.Error(t, err)
}
