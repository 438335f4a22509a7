package mongodb

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pilab-dev/shadow-auth/domain"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// groupPermission is one (group, permission) pair.
type groupPermission struct {
	GroupCode      string `bson:"group_code"`
	PermissionCode string `bson:"permission_code"`
}

// GroupPermissionRepositoryMongo implements domain.GroupPermissionRepository.
type GroupPermissionRepositoryMongo struct {
	collection *mongo.Collection
}

func NewGroupPermissionRepositoryMongo(ctx context.Context, db *mongo.Database) (*GroupPermissionRepositoryMongo, error) {
	repo := &GroupPermissionRepositoryMongo{collection: db.Collection(GroupPermissionsCollection)}
	_, err := repo.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "group_code", Value: 1}, {Key: "permission_code", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create indexes for %s collection: %w", GroupPermissionsCollection, err)
	}
	return repo, nil
}

// Grant stores the pairs, ignoring ones that already exist.
func (r *GroupPermissionRepositoryMongo) Grant(ctx context.Context, group string, permissions ...string) error {
	code := strings.ToUpper(strings.TrimSpace(group))
	for _, p := range permissions {
		_, err := r.collection.InsertOne(ctx, groupPermission{GroupCode: code, PermissionCode: p})
		if err != nil && !mongo.IsDuplicateKeyError(err) {
			return err
		}
	}
	return nil
}

func (r *GroupPermissionRepositoryMongo) ListPermissions(ctx context.Context, groups []string) ([]string, error) {
	if len(groups) == 0 {
		return nil, nil
	}
	codes := make([]string, 0, len(groups))
	for _, g := range groups {
		codes = append(codes, strings.ToUpper(strings.TrimSpace(g)))
	}

	cursor, err := r.collection.Find(ctx, bson.M{"group_code": bson.M{"$in": codes}})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var rows []groupPermission
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}

	seen := map[string]struct{}{}
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		if _, ok := seen[row.PermissionCode]; ok {
			continue
		}
		seen[row.PermissionCode] = struct{}{}
		out = append(out, row.PermissionCode)
	}
	sort.Strings(out)
	return out, nil
}

var _ domain.GroupPermissionRepository = (*GroupPermissionRepositoryMongo)(nil)
