package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"booking-inbox/internal/domain"
)

const (
	pkPrefixContact     = "CONTACT#"
	pkPrefixAppointment = "APPT#"
	skConversation      = "CONVERSATION"
	skAppointment       = "APPOINTMENT"
	skPrefixMsg         = "MSG#"
	skPrefixMsgID       = "MSGID#"

	gsi1Name          = "GSI1"
	gsi1Conversations = "CONVERSATIONS"
	gsi1Appointments  = "APPOINTMENTS"
	// GSI2 is sparse: only conversations that are not Closed carry GSI2PK.
	gsi2Name = "GSI2"
	gsi2Open = "OPEN"

	defaultHistoryLimit  = 100
	defaultListingLimit  = 50
	maxUpcomingPageLimit = 100

	// Fixed width so GSI1SK sorts lexicographically in time order.
	timeLayout = "2006-01-02T15:04:05.000Z07:00"

	conditionalCheckFailed = "ConditionalCheckFailed"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client wraps a DynamoDB table holding conversations, messages and the
// appointment mirror.
type Client struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

func contactPK(contactID string) string {
	return pkPrefixContact + contactID
}

func appointmentPK(phone string) string {
	return pkPrefixAppointment + canonicalPhone(phone)
}

// canonicalPhone strips spacing so "+34 600 111 222" and "34600111222" share
// one mirror key.
func canonicalPhone(phone string) string {
	return domain.PhoneFromContactID(domain.ContactIDFromPhone(phone))
}

// msgSK orders messages chronologically under the contact partition.
func msgSK(ts time.Time, messageID string) string {
	return skPrefixMsg + formatTime(ts) + "#" + messageID
}

func msgIDSK(messageID string) string {
	return skPrefixMsgID + messageID
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}

// GetConversation returns the conversation for contactID, or ok=false.
func (c *Client) GetConversation(ctx context.Context, contactID string) (domain.Conversation, bool, error) {
	// The read-then-write on this key is the serialization point.
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            conversationKey(contactID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Conversation{}, false, fmt.Errorf("repository: GetConversation get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Conversation{}, false, nil
	}
	conv, err := itemToConversation(out.Item)
	if err != nil {
		return domain.Conversation{}, false, fmt.Errorf("repository: GetConversation decode: %w", err)
	}
	return conv, true, nil
}

// CreateConversation inserts conv, failing with domain.ErrConversationExists
// when the contact already has one.
func (c *Client) CreateConversation(ctx context.Context, conv domain.Conversation) error {
	if strings.TrimSpace(conv.ContactID) == "" {
		return errors.New("repository: CreateConversation: contact id is required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                conversationItem(conv),
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return domain.ErrConversationExists
		}
		return fmt.Errorf("repository: CreateConversation: %w", err)
	}
	return nil
}

// UpdateConversation overwrites the mutable fields of an existing
// conversation. Last write wins.
func (c *Client) UpdateConversation(ctx context.Context, conv domain.Conversation) error {
	if err := c.updateConversation(ctx, conv, false); err != nil {
		return fmt.Errorf("repository: UpdateConversation: %w", err)
	}
	return nil
}

// UpdateOpenConversation is UpdateConversation guarded by status != Closed. A
// conversation closed since it was read yields domain.ErrConversationClosed.
func (c *Client) UpdateOpenConversation(ctx context.Context, conv domain.Conversation) error {
	if err := c.updateConversation(ctx, conv, true); err != nil {
		return fmt.Errorf("repository: UpdateOpenConversation: %w", err)
	}
	return nil
}

func (c *Client) updateConversation(ctx context.Context, conv domain.Conversation, requireOpen bool) error {
	if strings.TrimSpace(conv.ContactID) == "" {
		return errors.New("contact id is required")
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = time.Now()
	}
	condition := "attribute_exists(PK)"
	values := map[string]types.AttributeValue{
		":name":          &types.AttributeValueMemberS{Value: conv.Name},
		":lastMessage":   &types.AttributeValueMemberS{Value: conv.LastMessage},
		":lastMessageAt": &types.AttributeValueMemberS{Value: formatTime(conv.LastMessageAt)},
		":channelId":     &types.AttributeValueMemberS{Value: conv.ChannelID},
		":appointmentId": &types.AttributeValueMemberS{Value: conv.AppointmentID},
		":status":        &types.AttributeValueMemberS{Value: string(conv.Status)},
		":updatedAt":     &types.AttributeValueMemberS{Value: formatTime(conv.UpdatedAt)},
	}
	if requireOpen {
		condition += " AND #status <> :closed"
		values[":closed"] = &types.AttributeValueMemberS{Value: string(domain.StatusClosed)}
	}

	update := "SET #name = :name, lastMessage = :lastMessage, lastMessageAt = :lastMessageAt, " +
		"GSI1SK = :lastMessageAt, channelId = :channelId, appointmentId = :appointmentId, " +
		"#status = :status, updatedAt = :updatedAt"
	if conv.Status == domain.StatusClosed {
		update += " REMOVE GSI2PK, GSI2SK"
	} else {
		update += ", GSI2PK = :open, GSI2SK = :lastMessageAt"
		values[":open"] = &types.AttributeValueMemberS{Value: gsi2Open}
	}

	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(c.tableName),
		Key:                       conversationKey(conv.ContactID),
		UpdateExpression:          aws.String(update),
		ConditionExpression:       aws.String(condition),
		ExpressionAttributeNames:  map[string]string{"#name": "name", "#status": "status"},
		ExpressionAttributeValues: values,
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			if requireOpen {
				return domain.ErrConversationClosed
			}
			return domain.ErrNotFound
		}
		return err
	}
	return nil
}

// AppendMessage records msg together with an id marker in one transaction.
// A message id seen before yields domain.ErrDuplicateMessage.
func (c *Client) AppendMessage(ctx context.Context, msg domain.Message) error {
	if msg.ID == "" || msg.ContactID == "" {
		return errors.New("repository: AppendMessage: message id and contact id are required")
	}
	if msg.SentAt.IsZero() {
		return errors.New("repository: AppendMessage: sent time is required")
	}

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                messageIDItem(msg),
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                messageItem(msg),
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
		},
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return domain.ErrDuplicateMessage
		}
		return fmt.Errorf("repository: AppendMessage: %w", err)
	}
	return nil
}

// HasMessages reports whether any message exists for contactID.
func (c *Client) HasMessages(ctx context.Context, contactID string) (bool, error) {
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: contactPK(contactID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return false, fmt.Errorf("repository: HasMessages query: %w", err)
	}
	return len(out.Items) > 0, nil
}

// ListMessages returns up to limit of the most recent messages for contactID
// in chronological order.
func (c *Client) ListMessages(ctx context.Context, contactID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: contactPK(contactID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
		// Read newest first so LIMIT keeps the most recent page.
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: ListMessages query: %w", err)
	}

	msgs := make([]domain.Message, 0, len(out.Items))
	for _, item := range out.Items {
		msg, err := itemToMessage(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListMessages unmarshal: %w", err)
		}
		msgs = append(msgs, msg)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// ListConversations returns conversations by last-message time, newest first.
// Closed conversations are skipped unless includeClosed is set; open ones are
// read from the sparse GSI2.
func (c *Client) ListConversations(ctx context.Context, includeClosed bool, limit int) ([]domain.Conversation, error) {
	if limit <= 0 {
		limit = defaultListingLimit
	}
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		IndexName:              aws.String(gsi2Name),
		KeyConditionExpression: aws.String("GSI2PK = :gsi"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":gsi": &types.AttributeValueMemberS{Value: gsi2Open},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	}
	if includeClosed {
		in.IndexName = aws.String(gsi1Name)
		in.KeyConditionExpression = aws.String("GSI1PK = :gsi")
		in.ExpressionAttributeValues[":gsi"] = &types.AttributeValueMemberS{Value: gsi1Conversations}
	}

	convs, err := c.queryConversations(ctx, in, limit)
	if err != nil {
		return nil, fmt.Errorf("repository: ListConversations: %w", err)
	}
	return convs, nil
}

// ListStaleConversations returns every non-Closed conversation whose last
// message is older than cutoff. Closed conversations are not on GSI2, so the
// read never grows with closed history.
func (c *Client) ListStaleConversations(ctx context.Context, cutoff time.Time) ([]domain.Conversation, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		IndexName:              aws.String(gsi2Name),
		KeyConditionExpression: aws.String("GSI2PK = :gsi AND GSI2SK < :cutoff"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":gsi":    &types.AttributeValueMemberS{Value: gsi2Open},
			":cutoff": &types.AttributeValueMemberS{Value: formatTime(cutoff)},
		},
		ScanIndexForward: aws.Bool(true),
	}
	convs, err := c.queryConversations(ctx, in, 0)
	if err != nil {
		return nil, fmt.Errorf("repository: ListStaleConversations: %w", err)
	}
	return convs, nil
}

// queryConversations follows pagination until limit items were collected, or
// until the index is exhausted when limit is 0.
func (c *Client) queryConversations(ctx context.Context, in *dynamodb.QueryInput, limit int) ([]domain.Conversation, error) {
	var convs []domain.Conversation
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, err
		}
		for _, item := range out.Items {
			conv, err := itemToConversation(item)
			if err != nil {
				return nil, err
			}
			convs = append(convs, conv)
			if limit > 0 && len(convs) == limit {
				return convs, nil
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			return convs, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// PutAppointment writes the mirror record for a calendar booking.
func (c *Client) PutAppointment(ctx context.Context, appt domain.Appointment) error {
	if strings.TrimSpace(appt.Phone) == "" || appt.ID == "" {
		return errors.New("repository: PutAppointment: id and phone are required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      appointmentItem(appt),
	})
	if err != nil {
		return fmt.Errorf("repository: PutAppointment: %w", err)
	}
	return nil
}

// FindAppointmentByPhone looks up the booking for a canonical phone number.
func (c *Client) FindAppointmentByPhone(ctx context.Context, phone string) (domain.Appointment, bool, error) {
	if strings.TrimSpace(phone) == "" {
		return domain.Appointment{}, false, nil
	}
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: appointmentPK(phone)},
			"SK": &types.AttributeValueMemberS{Value: skAppointment},
		},
	})
	if err != nil {
		return domain.Appointment{}, false, fmt.Errorf("repository: FindAppointmentByPhone get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Appointment{}, false, nil
	}
	appt, err := itemToAppointment(out.Item)
	if err != nil {
		return domain.Appointment{}, false, fmt.Errorf("repository: FindAppointmentByPhone decode: %w", err)
	}
	return appt, true, nil
}

// ListUpcomingAppointments returns bookings starting at or after from, soonest
// first.
func (c *Client) ListUpcomingAppointments(ctx context.Context, from time.Time, limit int) ([]domain.Appointment, error) {
	if limit <= 0 || limit > maxUpcomingPageLimit {
		limit = maxUpcomingPageLimit
	}
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		IndexName:              aws.String(gsi1Name),
		KeyConditionExpression: aws.String("GSI1PK = :gsi AND GSI1SK >= :from"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":gsi":  &types.AttributeValueMemberS{Value: gsi1Appointments},
			":from": &types.AttributeValueMemberS{Value: formatTime(from)},
		},
		ScanIndexForward: aws.Bool(true),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: ListUpcomingAppointments query: %w", err)
	}
	appts := make([]domain.Appointment, 0, len(out.Items))
	for _, item := range out.Items {
		appt, err := itemToAppointment(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListUpcomingAppointments unmarshal: %w", err)
		}
		appts = append(appts, appt)
	}
	return appts, nil
}

func isConditionalCheckFailed(err error) bool {
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return true
	}
	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for _, reason := range txErr.CancellationReasons {
			if aws.ToString(reason.Code) == conditionalCheckFailed {
				return true
			}
		}
	}
	return false
}
