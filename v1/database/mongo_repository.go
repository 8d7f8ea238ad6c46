package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/num-err/smartscan/v1/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MembersCollection is the MongoDB collection holding member documents
const MembersCollection = "members"

// memberDocument is the BSON shape of a member. Field names follow the wire JSON.
type memberDocument struct {
	RecordID     string     `bson:"_id"`
	MemberID     int64      `bson:"id"`
	Name         string     `bson:"name"`
	MaleCount    int        `bson:"numberOfMaleMembers"`
	FemaleCount  int        `bson:"numberOfFemaleMembers"`
	SpecialCase  string     `bson:"specialCase"`
	Image        []byte     `bson:"imageUrl"`
	QRCodeData   string     `bson:"qrcodeData"`
	LastScanTime *time.Time `bson:"lastScanTime"`
	CreatedAt    time.Time  `bson:"createdAt"`
	UpdatedAt    time.Time  `bson:"updatedAt"`
}

func toDocument(m *models.Member) memberDocument {
	return memberDocument{
		RecordID:     m.RecordID.String(),
		MemberID:     m.MemberID,
		Name:         m.Name,
		MaleCount:    m.MaleCount,
		FemaleCount:  m.FemaleCount,
		SpecialCase:  m.SpecialCase,
		Image:        m.Image,
		QRCodeData:   m.QRCodeData,
		LastScanTime: m.LastScanTime,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func (d *memberDocument) toModel() *models.Member {
	recordID, err := uuid.Parse(d.RecordID)
	if err != nil {
		recordID = uuid.Nil
	}
	m := &models.Member{
		RecordID:     recordID,
		MemberID:     d.MemberID,
		Name:         d.Name,
		MaleCount:    d.MaleCount,
		FemaleCount:  d.FemaleCount,
		SpecialCase:  d.SpecialCase,
		Image:        d.Image,
		QRCodeData:   d.QRCodeData,
		LastScanTime: d.LastScanTime,
	}
	m.CreatedAt = d.CreatedAt
	m.UpdatedAt = d.UpdatedAt
	if m.LastScanTime != nil {
		t := m.LastScanTime.UTC()
		m.LastScanTime = &t
	}
	return m
}

// MongoRepository implements MemberRepository on a MongoDB collection
type MongoRepository struct {
	collection   *mongo.Collection
	queryTimeout time.Duration
}

// NewMongoRepository creates the repository and ensures the unique identifier index
func NewMongoRepository(ctx context.Context, db *mongo.Database, queryTimeout time.Duration) (*MongoRepository, error) {
	collection := db.Collection(MembersCollection)

	indexCtx, cancel := withTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := collection.Indexes().CreateOne(indexCtx, mongo.IndexModel{
		Keys:    bson.D{{Key: "id", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("idx_members_id"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create members index: %w", err)
	}

	return &MongoRepository{collection: collection, queryTimeout: queryTimeout}, nil
}

func prepareForInsert(m *models.Member) {
	if m.RecordID == uuid.Nil {
		m.RecordID = uuid.New()
	}
	m.ApplyDefaults()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	m.UpdatedAt = m.CreatedAt
}

// CreateMember inserts a new member document
func (r *MongoRepository) CreateMember(ctx context.Context, member *models.Member) (*models.Member, error) {
	ctx, cancel := withTimeout(ctx, r.queryTimeout)
	defer cancel()

	prepareForInsert(member)
	if _, err := r.collection.InsertOne(ctx, toDocument(member)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("%w: %d", models.ErrDuplicateMember, member.MemberID)
		}
		return nil, fmt.Errorf("failed to create member: %w", err)
	}
	return member, nil
}

// CreateMembers inserts all members with one ordered InsertMany
func (r *MongoRepository) CreateMembers(ctx context.Context, members []*models.Member) error {
	if len(members) == 0 {
		return nil
	}

	ctx, cancel := withTimeout(ctx, r.queryTimeout)
	defer cancel()

	docs := make([]interface{}, 0, len(members))
	for _, m := range members {
		prepareForInsert(m)
		docs = append(docs, toDocument(m))
	}

	if _, err := r.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: batch rejected", models.ErrDuplicateMember)
		}
		return fmt.Errorf("failed to create members: %w", err)
	}
	return nil
}

// GetMemberByID retrieves a member by its public identifier
func (r *MongoRepository) GetMemberByID(ctx context.Context, memberID int64) (*models.Member, error) {
	ctx, cancel := withTimeout(ctx, r.queryTimeout)
	defer cancel()

	return r.findByMemberID(ctx, memberID)
}

func (r *MongoRepository) findByMemberID(ctx context.Context, memberID int64) (*models.Member, error) {
	var doc memberDocument
	if err := r.collection.FindOne(ctx, bson.M{"id": memberID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %d", models.ErrMemberNotFound, memberID)
		}
		return nil, fmt.Errorf("failed to retrieve member: %w", err)
	}
	return doc.toModel(), nil
}

// UpdateMember $sets only the fields named by changes; lastScanTime is never touched
func (r *MongoRepository) UpdateMember(ctx context.Context, currentID int64, changes *models.MemberChanges) (*models.Member, error) {
	ctx, cancel := withTimeout(ctx, r.queryTimeout)
	defer cancel()

	changes.Normalize()
	set := bson.M{"updatedAt": time.Now().UTC()}
	if changes.MemberID != nil {
		set["id"] = *changes.MemberID
	}
	if changes.Name != nil {
		set["name"] = *changes.Name
	}
	if changes.MaleCount != nil {
		set["numberOfMaleMembers"] = *changes.MaleCount
	}
	if changes.FemaleCount != nil {
		set["numberOfFemaleMembers"] = *changes.FemaleCount
	}
	if changes.SpecialCase != nil {
		set["specialCase"] = *changes.SpecialCase
	}
	if changes.Image != nil {
		set["imageUrl"] = changes.Image
	}
	if changes.QRCodeData != nil {
		set["qrcodeData"] = *changes.QRCodeData
	}

	resultID := currentID
	if changes.MemberID != nil {
		resultID = *changes.MemberID
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"id": currentID}, bson.M{"$set": set})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("%w: %d", models.ErrDuplicateMember, resultID)
		}
		return nil, fmt.Errorf("failed to update member: %w", err)
	}
	if result.MatchedCount == 0 {
		return nil, fmt.Errorf("%w: %d", models.ErrMemberNotFound, currentID)
	}

	return r.findByMemberID(ctx, resultID)
}

// DeleteMember removes a member document
func (r *MongoRepository) DeleteMember(ctx context.Context, memberID int64) error {
	ctx, cancel := withTimeout(ctx, r.queryTimeout)
	defer cancel()

	result, err := r.collection.DeleteOne(ctx, bson.M{"id": memberID})
	if err != nil {
		return fmt.Errorf("failed to delete member: %w", err)
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("%w: %d", models.ErrMemberNotFound, memberID)
	}
	return nil
}

// ClaimScan uses FindOneAndUpdate so the window check and the write are a single server-side operation
func (r *MongoRepository) ClaimScan(ctx context.Context, memberID int64, now, cutoff time.Time) (*models.Member, error) {
	ctx, cancel := withTimeout(ctx, r.queryTimeout)
	defer cancel()

	now = now.UTC()
	filter := bson.M{
		"id": memberID,
		"$or": bson.A{
			bson.M{"lastScanTime": nil},
			bson.M{"lastScanTime": bson.M{"$lte": cutoff.UTC()}},
		},
	}
	update := bson.M{"$set": bson.M{"lastScanTime": now, "updatedAt": now}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.Before)

	var before memberDocument
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&before)
	if err == nil {
		return before.toModel(), nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to record scan: %w", err)
	}

	// No match: either the member is absent or it is inside the window
	current, getErr := r.findByMemberID(ctx, memberID)
	if getErr != nil {
		return nil, getErr
	}
	return current, models.ErrScanNotAllowed
}

// Ping checks connectivity to the MongoDB deployment
func (r *MongoRepository) Ping(ctx context.Context) error {
	return r.collection.Database().Client().Ping(ctx, nil)
}
