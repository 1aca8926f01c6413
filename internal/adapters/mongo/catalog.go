package mongo

import (
	"context"
	"regexp"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type CatalogRepository struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewCatalogRepository(db *mongo.Database, logger observability.Logger) *CatalogRepository {
	return &CatalogRepository{
		coll:   db.Collection("events"),
		logger: logger,
	}
}

type EventDoc struct {
	ID          string      `bson:"_id"`
	OrganizerID string      `bson:"organizer_id"`
	Name        string      `bson:"name"`
	Description string      `bson:"description"`
	Location    string      `bson:"location"`
	Category    string      `bson:"category"`
	Date        time.Time   `bson:"date"`
	Status      string      `bson:"status"`
	Tickets     []TicketDoc `bson:"tickets"`
	CreatedAt   time.Time   `bson:"created_at"`
	UpdatedAt   time.Time   `bson:"updated_at"`
}

type TicketDoc struct {
	ID          string `bson:"id"`
	Type        string `bson:"type"`
	Price       int64  `bson:"price"`
	Quantity    int    `bson:"quantity"`
	Sold        int    `bson:"sold"`
	Description string `bson:"description,omitempty"`
}

func (d EventDoc) toDomain() domain.Event {
	return domain.Event{
		ID:          d.ID,
		OrganizerID: d.OrganizerID,
		Name:        d.Name,
		Description: d.Description,
		Location:    d.Location,
		Category:    d.Category,
		StartsAt:    d.Date,
		Status:      domain.EventStatus(d.Status),
		Offerings:   ticketsToDomain(d.Tickets),
	}
}

func ticketsToDomain(tickets []TicketDoc) []domain.TicketOffering {
	out := make([]domain.TicketOffering, len(tickets))
	for i, t := range tickets {
		out[i] = domain.TicketOffering{
			ID:            t.ID,
			Kind:          domain.TicketKind(t.Type),
			UnitPrice:     t.Price,
			TotalQuantity: t.Quantity,
			SoldQuantity:  t.Sold,
			Description:   t.Description,
		}
	}
	return out
}

func eventToDoc(e domain.Event) EventDoc {
	tickets := make([]TicketDoc, len(e.Offerings))
	for i, o := range e.Offerings {
		tickets[i] = TicketDoc{
			ID:          o.ID,
			Type:        string(o.Kind),
			Price:       o.UnitPrice,
			Quantity:    o.TotalQuantity,
			Sold:        o.SoldQuantity,
			Description: o.Description,
		}
	}
	return EventDoc{
		ID:          e.ID,
		OrganizerID: e.OrganizerID,
		Name:        e.Name,
		Description: e.Description,
		Location:    e.Location,
		Category:    e.Category,
		Date:        e.StartsAt,
		Status:      string(e.Status),
		Tickets:     tickets,
	}
}

func (c *CatalogRepository) GetEvent(ctx context.Context, id string) (*domain.Event, error) {
	var doc EventDoc
	err := c.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		c.logger.Error("failed to get event", err)
		return nil, errors.Wrapf(err, "get event %s", id)
	}
	event := doc.toDomain()
	return &event, nil
}

// Offerings returns the ticket offerings of an event as currently stored.
func (c *CatalogRepository) Offerings(ctx context.Context, eventID string) ([]domain.TicketOffering, error) {
	var doc EventDoc
	opts := options.FindOne().SetProjection(bson.M{"tickets": 1})
	err := c.coll.FindOne(ctx, bson.M{"_id": eventID}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get offerings of %s", eventID)
	}
	return ticketsToDomain(doc.Tickets), nil
}

func (c *CatalogRepository) CreateEvent(ctx context.Context, event domain.Event) error {
	doc := eventToDoc(event)
	doc.CreatedAt = time.Now()
	doc.UpdatedAt = doc.CreatedAt
	_, err := c.coll.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return domain.ErrConflict
	}
	if err != nil {
		c.logger.Error("failed to create event", err)
		return err
	}
	return nil
}

func (c *CatalogRepository) ListByOrganizer(ctx context.Context, organizerID string) ([]domain.Event, error) {
	cur, err := c.coll.Find(ctx, bson.M{"organizer_id": organizerID}, options.Find().SetSort(bson.M{"date": 1}))
	if err != nil {
		return nil, errors.Wrap(err, "list organizer events")
	}
	defer cur.Close(ctx)

	var events []domain.Event
	for cur.Next(ctx) {
		var doc EventDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		events = append(events, doc.toDomain())
	}
	return events, cur.Err()
}

// ListEvents pages through published events, soonest first.
func (c *CatalogRepository) ListEvents(ctx context.Context, f domain.EventFilter) ([]domain.Event, int64, error) {
	filter := bson.M{"status": string(domain.EventPublished)}
	if f.Search != "" {
		re := primitive.Regex{Pattern: regexp.QuoteMeta(f.Search), Options: "i"}
		filter["$or"] = bson.A{bson.M{"name": re}, bson.M{"description": re}}
	}
	if f.Category != "" {
		filter["category"] = f.Category
	}
	if f.Location != "" {
		filter["location"] = primitive.Regex{Pattern: regexp.QuoteMeta(f.Location), Options: "i"}
	}
	page := f.Page.Normalize()

	total, err := c.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, errors.Wrap(err, "count events")
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "date", Value: 1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(page.Offset())).
		SetLimit(int64(page.Size))
	cur, err := c.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list events")
	}
	defer cur.Close(ctx)

	events := []domain.Event{}
	for cur.Next(ctx) {
		var doc EventDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, 0, err
		}
		events = append(events, doc.toDomain())
	}
	return events, total, cur.Err()
}

// UpdateEvent applies upd to an event owned by organizerID. Events of other
// organizers are reported as not found. An offering whose new quantity is
// below its sold count fails the update with ErrConflict; changes applied
// before it are kept.
func (c *CatalogRepository) UpdateEvent(ctx context.Context, organizerID, id string, upd domain.EventUpdate) (*domain.Event, error) {
	current, err := c.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.OrganizerID != organizerID {
		return nil, domain.ErrNotFound
	}

	now := time.Now()
	set := bson.M{"updated_at": now}
	if upd.Name != nil {
		set["name"] = *upd.Name
	}
	if upd.Description != nil {
		set["description"] = *upd.Description
	}
	if upd.Location != nil {
		set["location"] = *upd.Location
	}
	if upd.Category != nil {
		set["category"] = *upd.Category
	}
	if upd.StartsAt != nil {
		set["date"] = upd.StartsAt.UTC()
	}
	if upd.Status != nil {
		set["status"] = string(*upd.Status)
	}
	if _, err := c.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set}); err != nil {
		return nil, errors.Wrapf(err, "update event %s", id)
	}

	existing := make(map[string]bool, len(current.Offerings))
	for _, o := range current.Offerings {
		existing[o.ID] = true
	}
	for _, o := range upd.Offerings {
		if existing[o.ID] {
			err = c.updateOffering(ctx, id, o)
		} else {
			err = c.addOffering(ctx, id, o)
		}
		if err != nil {
			return nil, err
		}
	}
	return c.GetEvent(ctx, id)
}

func (c *CatalogRepository) updateOffering(ctx context.Context, eventID string, o domain.TicketOffering) error {
	res, err := c.coll.UpdateOne(ctx,
		bson.M{
			"_id":     eventID,
			"tickets": bson.M{"$elemMatch": bson.M{"id": o.ID, "sold": bson.M{"$lte": o.TotalQuantity}}},
		},
		bson.M{"$set": bson.M{
			"tickets.$.type":        string(o.Kind),
			"tickets.$.price":       o.UnitPrice,
			"tickets.$.quantity":    o.TotalQuantity,
			"tickets.$.description": o.Description,
		}},
	)
	if err != nil {
		return errors.Wrapf(err, "update offering %s", o.ID)
	}
	if res.MatchedCount == 0 {
		return errors.Wrapf(domain.ErrConflict, "offering %s has sold more than %d", o.ID, o.TotalQuantity)
	}
	return nil
}

func (c *CatalogRepository) addOffering(ctx context.Context, eventID string, o domain.TicketOffering) error {
	doc := TicketDoc{ID: o.ID, Type: string(o.Kind), Price: o.UnitPrice, Quantity: o.TotalQuantity, Description: o.Description}
	res, err := c.coll.UpdateOne(ctx,
		bson.M{"_id": eventID, "tickets.id": bson.M{"$ne": o.ID}},
		bson.M{"$push": bson.M{"tickets": doc}},
	)
	if err != nil {
		return errors.Wrapf(err, "add offering %s", o.ID)
	}
	if res.MatchedCount == 0 {
		return errors.Wrapf(domain.ErrConflict, "offering %s already exists", o.ID)
	}
	return nil
}

// DeleteEvent removes an event owned by organizerID. Events with any ticket
// sold or reserved cannot be deleted.
func (c *CatalogRepository) DeleteEvent(ctx context.Context, organizerID, id string) error {
	res, err := c.coll.DeleteOne(ctx, bson.M{
		"_id":          id,
		"organizer_id": organizerID,
		"tickets.sold": bson.M{"$not": bson.M{"$gt": 0}},
	})
	if err != nil {
		return errors.Wrapf(err, "delete event %s", id)
	}
	if res.DeletedCount > 0 {
		return nil
	}
	current, err := c.GetEvent(ctx, id)
	if err != nil {
		return err
	}
	if current.OrganizerID != organizerID {
		return domain.ErrNotFound
	}
	return errors.Wrapf(domain.ErrConflict, "event %s has tickets sold", id)
}

// IncrementSold adds qty to the sold count of one offering, provided the
// result stays within the offering's quantity.
func (c *CatalogRepository) IncrementSold(ctx context.Context, eventID, offeringID string, qty int) error {
	filter := bson.M{
		"_id":        eventID,
		"tickets.id": offeringID,
		"$expr": bson.M{"$anyElementTrue": bson.A{bson.M{"$map": bson.M{
			"input": "$tickets",
			"as":    "t",
			"in": bson.M{"$and": bson.A{
				bson.M{"$eq": bson.A{"$$t.id", offeringID}},
				bson.M{"$lte": bson.A{bson.M{"$add": bson.A{"$$t.sold", qty}}, "$$t.quantity"}},
			}},
		}}}},
	}
	return c.adjustSold(ctx, eventID, offeringID, filter, qty, domain.ErrExceedsAvailability)
}

// DecrementSold returns qty tickets of one offering to stock. It never takes
// the sold count below zero.
func (c *CatalogRepository) DecrementSold(ctx context.Context, eventID, offeringID string, qty int) error {
	filter := bson.M{
		"_id":     eventID,
		"tickets": bson.M{"$elemMatch": bson.M{"id": offeringID, "sold": bson.M{"$gte": qty}}},
	}
	return c.adjustSold(ctx, eventID, offeringID, filter, -qty, domain.ErrConflict)
}

func (c *CatalogRepository) adjustSold(ctx context.Context, eventID, offeringID string, filter bson.M, delta int, refused error) error {
	res, err := c.coll.UpdateOne(ctx, filter, bson.M{
		"$inc": bson.M{"tickets.$.sold": delta},
		"$set": bson.M{"updated_at": time.Now()},
	})
	if err != nil {
		c.logger.Error("failed to update sold count", err)
		return errors.Wrapf(err, "adjust sold %s/%s", eventID, offeringID)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	n, err := c.coll.CountDocuments(ctx, bson.M{"_id": eventID, "tickets.id": offeringID})
	if err != nil {
		return errors.Wrapf(err, "adjust sold %s/%s", eventID, offeringID)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return refused
}

func (c *CatalogRepository) Ping(ctx context.Context) error {
	return c.coll.Database().Client().Ping(ctx, nil)
}
