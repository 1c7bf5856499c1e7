package adapter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/augustinebeh/worklink-gateway/internal/domain"
	"github.com/augustinebeh/worklink-gateway/internal/dynamo"
	"github.com/augustinebeh/worklink-gateway/internal/gateway/app"
)

// ---------------------------------------------------------------------------
// Stub — implements messageDynamoDB for unit tests.
// ---------------------------------------------------------------------------

type stubMessageDynamo struct {
	putItemFn    func(ctx context.Context, params *dynamo.PutItemInput, optFns ...func(*dynamo.Options)) (*dynamo.PutItemOutput, error)
	queryFn      func(ctx context.Context, params *dynamo.QueryInput, optFns ...func(*dynamo.Options)) (*dynamo.QueryOutput, error)
	updateItemFn func(ctx context.Context, params *dynamo.UpdateItemInput, optFns ...func(*dynamo.Options)) (*dynamo.UpdateItemOutput, error)
}

func (s *stubMessageDynamo) PutItem(ctx context.Context, params *dynamo.PutItemInput, optFns ...func(*dynamo.Options)) (*dynamo.PutItemOutput, error) {
	return s.putItemFn(ctx, params, optFns...)
}

func (s *stubMessageDynamo) Query(ctx context.Context, params *dynamo.QueryInput, optFns ...func(*dynamo.Options)) (*dynamo.QueryOutput, error) {
	return s.queryFn(ctx, params, optFns...)
}

func (s *stubMessageDynamo) UpdateItem(ctx context.Context, params *dynamo.UpdateItemInput, optFns ...func(*dynamo.Options)) (*dynamo.UpdateItemOutput, error) {
	return s.updateItemFn(ctx, params, optFns...)
}

var _ messageDynamoDB = (*stubMessageDynamo)(nil)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

const messagesTable = "messages"

func sampleMessageRecord() app.MessageRecord {
	return app.MessageRecord{
		MessageID:   "6c84fb90-12c4-11e1-840d-7b25c5ee775a",
		WorkerID:    "W-001",
		Sender:      domain.SenderWorker,
		Content:     "What shifts are open this weekend?",
		Channel:     domain.ChannelTelegram,
		CreatedAtMs: 1700000000000,
	}
}

func sampleUnreadItem(id string, createdAtMs int64) messageItem {
	return messageItem{
		WorkerID:  "W-001",
		SortKey:   messageSortKey(createdAtMs, id),
		MessageID: id,
		Sender:    string(domain.SenderWorker),
		Content:   "message " + id,
		Channel:   string(domain.ChannelTelegram),
		CreatedAt: createdAtMs,
	}
}

func mustMarshalItem(t *testing.T, item messageItem) map[string]dynamo.AttributeValue {
	t.Helper()
	av, err := dynamo.MarshalMap(item)
	require.NoError(t, err)
	return av
}

// ---------------------------------------------------------------------------
// Tests — Append
// ---------------------------------------------------------------------------

func TestMessageStore_Append(t *testing.T) {
	tests := []struct {
		name      string
		putItemFn func(ctx context.Context, params *dynamo.PutItemInput, optFns ...func(*dynamo.Options)) (*dynamo.PutItemOutput, error)
		wantErr   error
		errSubstr string
	}{
		{
			name: "success - writes message with condition",
			putItemFn: func(_ context.Context, params *dynamo.PutItemInput, _ ...func(*dynamo.Options)) (*dynamo.PutItemOutput, error) {
				assert.Equal(t, messagesTable, *params.TableName)
				require.NotNil(t, params.ConditionExpression)
				assert.Contains(t, *params.ConditionExpression, "attribute_not_exists(sk)")
				assert.Contains(t, params.Item, "worker_id")
				assert.Contains(t, params.Item, "content")

				skAV, ok := params.Item["sk"].(*dynamo.AttributeValueMemberS)
				require.True(t, ok)
				assert.Equal(t, "1700000000000#6c84fb90-12c4-11e1-840d-7b25c5ee775a", skAV.Value)
				return &dynamo.PutItemOutput{}, nil
			},
		},
		{
			name: "conditional check failed - returns ErrAlreadyExists",
			putItemFn: func(_ context.Context, _ *dynamo.PutItemInput, _ ...func(*dynamo.Options)) (*dynamo.PutItemOutput, error) {
				return nil, dynamo.ErrConditionalCheckFailed()
			},
			wantErr: domain.ErrAlreadyExists,
		},
		{
			name: "dynamo error - wraps with context",
			putItemFn: func(_ context.Context, _ *dynamo.PutItemInput, _ ...func(*dynamo.Options)) (*dynamo.PutItemOutput, error) {
				return nil, errors.New("connection refused")
			},
			errSubstr: "message store: append: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMessageStore(&stubMessageDynamo{putItemFn: tt.putItemFn}, messagesTable)

			err := store.Append(context.Background(), sampleMessageRecord())

			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			if tt.errSubstr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errSubstr)
				return
			}
			require.NoError(t, err)
		})
	}
}

// ---------------------------------------------------------------------------
// Tests — MarkRead
// ---------------------------------------------------------------------------

func TestMessageStore_MarkRead(t *testing.T) {
	t.Run("success - flips each unread message and counts", func(t *testing.T) {
		itemA := sampleUnreadItem("aaaaaaaa-0000-0000-0000-000000000001", 1700000000000)
		itemB := sampleUnreadItem("aaaaaaaa-0000-0000-0000-000000000002", 1700000005000)

		var updatedKeys []string
		store := NewMessageStore(&stubMessageDynamo{
			queryFn: func(_ context.Context, params *dynamo.QueryInput, _ ...func(*dynamo.Options)) (*dynamo.QueryOutput, error) {
				assert.Equal(t, messagesTable, *params.TableName)
				assert.Equal(t, "worker_id = :wid", *params.KeyConditionExpression)
				require.NotNil(t, params.FilterExpression)
				assert.Equal(t, "#s = :sender AND #r = :unread", *params.FilterExpression)
				assert.Equal(t, "sender", params.ExpressionAttributeNames["#s"])
				assert.Equal(t, "read", params.ExpressionAttributeNames["#r"])

				widAV, ok := params.ExpressionAttributeValues[":wid"].(*dynamo.AttributeValueMemberS)
				require.True(t, ok)
				assert.Equal(t, "W-001", widAV.Value)
				senderAV, ok := params.ExpressionAttributeValues[":sender"].(*dynamo.AttributeValueMemberS)
				require.True(t, ok)
				assert.Equal(t, "worker", senderAV.Value)

				return &dynamo.QueryOutput{Items: []map[string]dynamo.AttributeValue{
					mustMarshalItem(t, itemA),
					mustMarshalItem(t, itemB),
				}}, nil
			},
			updateItemFn: func(_ context.Context, params *dynamo.UpdateItemInput, _ ...func(*dynamo.Options)) (*dynamo.UpdateItemOutput, error) {
				assert.Equal(t, messagesTable, *params.TableName)
				require.NotNil(t, params.UpdateExpression)
				assert.Equal(t, "SET #r = :read, read_at_ms = :ts", *params.UpdateExpression)
				assert.Equal(t, "read", params.ExpressionAttributeNames["#r"])

				readAV, ok := params.ExpressionAttributeValues[":read"].(*dynamo.AttributeValueMemberBOOL)
				require.True(t, ok)
				assert.True(t, readAV.Value)
				tsAV, ok := params.ExpressionAttributeValues[":ts"].(*dynamo.AttributeValueMemberN)
				require.True(t, ok)
				assert.Equal(t, "1700000300000", tsAV.Value)

				keySV, ok := params.Key["sk"].(*dynamo.AttributeValueMemberS)
				require.True(t, ok)
				updatedKeys = append(updatedKeys, keySV.Value)
				return &dynamo.UpdateItemOutput{}, nil
			},
		}, messagesTable)

		count, err := store.MarkRead(context.Background(), "W-001", domain.SenderWorker, 1700000300000)

		require.NoError(t, err)
		assert.Equal(t, 2, count)
		assert.Equal(t, []string{itemA.SortKey, itemB.SortKey}, updatedKeys)
	})

	t.Run("pagination - follows LastEvaluatedKey", func(t *testing.T) {
		itemA := sampleUnreadItem("aaaaaaaa-0000-0000-0000-000000000001", 1700000000000)
		itemB := sampleUnreadItem("aaaaaaaa-0000-0000-0000-000000000002", 1700000005000)
		pageKey := map[string]dynamo.AttributeValue{
			"worker_id": &dynamo.AttributeValueMemberS{Value: "W-001"},
			"sk":        &dynamo.AttributeValueMemberS{Value: itemA.SortKey},
		}

		queries := 0
		store := NewMessageStore(&stubMessageDynamo{
			queryFn: func(_ context.Context, params *dynamo.QueryInput, _ ...func(*dynamo.Options)) (*dynamo.QueryOutput, error) {
				queries++
				if queries == 1 {
					assert.Nil(t, params.ExclusiveStartKey)
					return &dynamo.QueryOutput{
						Items:            []map[string]dynamo.AttributeValue{mustMarshalItem(t, itemA)},
						LastEvaluatedKey: pageKey,
					}, nil
				}
				assert.Equal(t, pageKey, params.ExclusiveStartKey)
				return &dynamo.QueryOutput{Items: []map[string]dynamo.AttributeValue{mustMarshalItem(t, itemB)}}, nil
			},
			updateItemFn: func(_ context.Context, _ *dynamo.UpdateItemInput, _ ...func(*dynamo.Options)) (*dynamo.UpdateItemOutput, error) {
				return &dynamo.UpdateItemOutput{}, nil
			},
		}, messagesTable)

		count, err := store.MarkRead(context.Background(), "W-001", domain.SenderWorker, 1700000300000)

		require.NoError(t, err)
		assert.Equal(t, 2, count)
		assert.Equal(t, 2, queries)
	})

	t.Run("no unread - zero updates", func(t *testing.T) {
		updates := 0
		store := NewMessageStore(&stubMessageDynamo{
			queryFn: func(_ context.Context, _ *dynamo.QueryInput, _ ...func(*dynamo.Options)) (*dynamo.QueryOutput, error) {
				return &dynamo.QueryOutput{}, nil
			},
			updateItemFn: func(_ context.Context, _ *dynamo.UpdateItemInput, _ ...func(*dynamo.Options)) (*dynamo.UpdateItemOutput, error) {
				updates++
				return &dynamo.UpdateItemOutput{}, nil
			},
		}, messagesTable)

		count, err := store.MarkRead(context.Background(), "W-001", domain.SenderAdmin, 1700000300000)

		require.NoError(t, err)
		assert.Zero(t, count)
		assert.Zero(t, updates)
	})

	t.Run("update error - wraps with context", func(t *testing.T) {
		item := sampleUnreadItem("aaaaaaaa-0000-0000-0000-000000000001", 1700000000000)
		store := NewMessageStore(&stubMessageDynamo{
			queryFn: func(_ context.Context, _ *dynamo.QueryInput, _ ...func(*dynamo.Options)) (*dynamo.QueryOutput, error) {
				return &dynamo.QueryOutput{Items: []map[string]dynamo.AttributeValue{mustMarshalItem(t, item)}}, nil
			},
			updateItemFn: func(_ context.Context, _ *dynamo.UpdateItemInput, _ ...func(*dynamo.Options)) (*dynamo.UpdateItemOutput, error) {
				return nil, errors.New("throttled")
			},
		}, messagesTable)

		count, err := store.MarkRead(context.Background(), "W-001", domain.SenderWorker, 1700000300000)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "message store: mark read:")
		assert.Contains(t, err.Error(), "throttled")
		assert.Zero(t, count)
	})

	t.Run("query error - wraps with context", func(t *testing.T) {
		store := NewMessageStore(&stubMessageDynamo{
			queryFn: func(_ context.Context, _ *dynamo.QueryInput, _ ...func(*dynamo.Options)) (*dynamo.QueryOutput, error) {
				return nil, errors.New("timeout")
			},
		}, messagesTable)

		_, err := store.MarkRead(context.Background(), "W-001", domain.SenderWorker, 1700000300000)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "message store: mark read: query unread: timeout")
	})
}

// ---------------------------------------------------------------------------
// Tests — UnreadCount
// ---------------------------------------------------------------------------

func TestMessageStore_UnreadCount(t *testing.T) {
	t.Run("success - sums counts across pages", func(t *testing.T) {
		pageKey := map[string]dynamo.AttributeValue{
			"worker_id": &dynamo.AttributeValueMemberS{Value: "W-001"},
		}

		queries := 0
		store := NewMessageStore(&stubMessageDynamo{
			queryFn: func(_ context.Context, params *dynamo.QueryInput, _ ...func(*dynamo.Options)) (*dynamo.QueryOutput, error) {
				queries++
				assert.Equal(t, dynamo.SelectCount, params.Select)
				require.NotNil(t, params.KeyConditionExpression)
				require.NotNil(t, params.FilterExpression)

				// The expression builder generates placeholder names, so
				// assert on the attributes and values bound behind them.
				names := make([]string, 0, len(params.ExpressionAttributeNames))
				for _, n := range params.ExpressionAttributeNames {
					names = append(names, n)
				}
				assert.ElementsMatch(t, []string{"worker_id", "sender", "read"}, names)

				widBound := false
				for _, av := range params.ExpressionAttributeValues {
					if s, ok := av.(*dynamo.AttributeValueMemberS); ok && s.Value == "W-001" {
						widBound = true
					}
				}
				assert.True(t, widBound, "worker id bound in expression values")

				if queries == 1 {
					return &dynamo.QueryOutput{Count: 3, LastEvaluatedKey: pageKey}, nil
				}
				return &dynamo.QueryOutput{Count: 4}, nil
			},
		}, messagesTable)

		count, err := store.UnreadCount(context.Background(), "W-001", domain.SenderWorker)

		require.NoError(t, err)
		assert.Equal(t, 7, count)
		assert.Equal(t, 2, queries)
	})

	t.Run("query error - wraps with context", func(t *testing.T) {
		store := NewMessageStore(&stubMessageDynamo{
			queryFn: func(_ context.Context, _ *dynamo.QueryInput, _ ...func(*dynamo.Options)) (*dynamo.QueryOutput, error) {
				return nil, errors.New("throttled")
			},
		}, messagesTable)

		_, err := store.UnreadCount(context.Background(), "W-001", domain.SenderAdmin)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "message store: unread count: throttled")
	})
}

// ---------------------------------------------------------------------------
// Tests — ListRecent
// ---------------------------------------------------------------------------

func TestMessageStore_ListRecent(t *testing.T) {
	t.Run("success - newest first with limit", func(t *testing.T) {
		newer := sampleUnreadItem("aaaaaaaa-0000-0000-0000-000000000002", 1700000005000)
		older := sampleUnreadItem("aaaaaaaa-0000-0000-0000-000000000001", 1700000000000)

		store := NewMessageStore(&stubMessageDynamo{
			queryFn: func(_ context.Context, params *dynamo.QueryInput, _ ...func(*dynamo.Options)) (*dynamo.QueryOutput, error) {
				assert.Equal(t, messagesTable, *params.TableName)
				require.NotNil(t, params.ScanIndexForward)
				assert.False(t, *params.ScanIndexForward)
				require.NotNil(t, params.Limit)
				assert.EqualValues(t, 25, *params.Limit)
				assert.Nil(t, params.FilterExpression)

				return &dynamo.QueryOutput{Items: []map[string]dynamo.AttributeValue{
					mustMarshalItem(t, newer),
					mustMarshalItem(t, older),
				}}, nil
			},
		}, messagesTable)

		records, err := store.ListRecent(context.Background(), "W-001", 25)

		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, newer.MessageID, records[0].MessageID)
		assert.Equal(t, newer.Content, records[0].Content)
		assert.Equal(t, domain.SenderWorker, records[0].Sender)
		assert.Equal(t, int64(1700000005000), records[0].CreatedAtMs)
		assert.Equal(t, older.MessageID, records[1].MessageID)
	})

	t.Run("empty result - returns empty slice", func(t *testing.T) {
		store := NewMessageStore(&stubMessageDynamo{
			queryFn: func(_ context.Context, _ *dynamo.QueryInput, _ ...func(*dynamo.Options)) (*dynamo.QueryOutput, error) {
				return &dynamo.QueryOutput{}, nil
			},
		}, messagesTable)

		records, err := store.ListRecent(context.Background(), "W-001", 50)

		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("query error - wraps with context", func(t *testing.T) {
		store := NewMessageStore(&stubMessageDynamo{
			queryFn: func(_ context.Context, _ *dynamo.QueryInput, _ ...func(*dynamo.Options)) (*dynamo.QueryOutput, error) {
				return nil, errors.New("timeout")
			},
		}, messagesTable)

		records, err := store.ListRecent(context.Background(), "W-001", 50)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "message store: list recent: timeout")
		assert.Nil(t, records)
	})
}

// ---------------------------------------------------------------------------
// Tests — LastWorkerChannel
// ---------------------------------------------------------------------------

func TestMessageStore_LastWorkerChannel(t *testing.T) {
	t.Run("success - newest worker message names the channel", func(t *testing.T) {
		adminReply := sampleUnreadItem("aaaaaaaa-0000-0000-0000-000000000003", 1700000010000)
		adminReply.Sender = string(domain.SenderAdmin)
		adminReply.Channel = ""
		workerMsg := sampleUnreadItem("aaaaaaaa-0000-0000-0000-000000000002", 1700000005000)

		store := NewMessageStore(&stubMessageDynamo{
			queryFn: func(_ context.Context, params *dynamo.QueryInput, _ ...func(*dynamo.Options)) (*dynamo.QueryOutput, error) {
				require.NotNil(t, params.ScanIndexForward)
				assert.False(t, *params.ScanIndexForward)
				require.NotNil(t, params.Limit)
				assert.EqualValues(t, recentChannelScanLimit, *params.Limit)

				return &dynamo.QueryOutput{Items: []map[string]dynamo.AttributeValue{
					mustMarshalItem(t, adminReply),
					mustMarshalItem(t, workerMsg),
				}}, nil
			},
		}, messagesTable)

		ch, err := store.LastWorkerChannel(context.Background(), "W-001")

		require.NoError(t, err)
		assert.Equal(t, domain.ChannelTelegram, ch)
	})

	t.Run("invalid stored channel - skipped for an older valid one", func(t *testing.T) {
		odd := sampleUnreadItem("aaaaaaaa-0000-0000-0000-000000000002", 1700000005000)
		odd.Channel = "fax"
		older := sampleUnreadItem("aaaaaaaa-0000-0000-0000-000000000001", 1700000000000)
		older.Channel = string(domain.ChannelWhatsApp)

		store := NewMessageStore(&stubMessageDynamo{
			queryFn: func(_ context.Context, _ *dynamo.QueryInput, _ ...func(*dynamo.Options)) (*dynamo.QueryOutput, error) {
				return &dynamo.QueryOutput{Items: []map[string]dynamo.AttributeValue{
					mustMarshalItem(t, odd),
					mustMarshalItem(t, older),
				}}, nil
			},
		}, messagesTable)

		ch, err := store.LastWorkerChannel(context.Background(), "W-001")

		require.NoError(t, err)
		assert.Equal(t, domain.ChannelWhatsApp, ch)
	})

	t.Run("no worker message - returns ErrNotFound", func(t *testing.T) {
		adminReply := sampleUnreadItem("aaaaaaaa-0000-0000-0000-000000000003", 1700000010000)
		adminReply.Sender = string(domain.SenderAdmin)

		store := NewMessageStore(&stubMessageDynamo{
			queryFn: func(_ context.Context, _ *dynamo.QueryInput, _ ...func(*dynamo.Options)) (*dynamo.QueryOutput, error) {
				return &dynamo.QueryOutput{Items: []map[string]dynamo.AttributeValue{mustMarshalItem(t, adminReply)}}, nil
			},
		}, messagesTable)

		_, err := store.LastWorkerChannel(context.Background(), "W-001")

		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("query error - wraps with context", func(t *testing.T) {
		store := NewMessageStore(&stubMessageDynamo{
			queryFn: func(_ context.Context, _ *dynamo.QueryInput, _ ...func(*dynamo.Options)) (*dynamo.QueryOutput, error) {
				return nil, errors.New("access denied")
			},
		}, messagesTable)

		_, err := store.LastWorkerChannel(context.Background(), "W-001")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "message store: last worker channel: access denied")
	})
}
