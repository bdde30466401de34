// Copyright 2025 SQLPilot
// SPDX-License-Identifier: Apache-2.0

package mongodb

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"sqlpilot/platform/connectors/base"
)

const (
	// DefaultConnectTimeout bounds the initial server handshake.
	DefaultConnectTimeout = 10 * time.Second
	// DefaultSampleSize is how many documents schema inference samples per
	// collection. One document matches the original behavior; raising it
	// unions the shapes of all sampled documents.
	DefaultSampleSize = 1
)

// Connector implements the base.Connector interface for MongoDB. Schema is
// inferred by sampling documents, so the result is a heuristic, not a
// declared-schema guarantee.
type Connector struct {
	logger     *log.Logger
	sampleSize int
}

// New creates a new MongoDB connector instance.
func New() *Connector {
	return &Connector{
		logger:     log.New(os.Stdout, "[MONGODB] ", log.LstdFlags),
		sampleSize: DefaultSampleSize,
	}
}

// NewWithSampleSize creates a connector that samples n documents per
// collection during schema inference.
func NewWithSampleSize(n int) *Connector {
	c := New()
	if n > 0 {
		c.sampleSize = n
	}
	return c
}

type mongoConn struct {
	client *mongo.Client
	dbName string
	closed bool
}

func (c *mongoConn) Type() base.DatabaseType { return base.TypeMongoDB }
func (c *mongoConn) Closed() bool            { return c.closed }

// Type returns the engine tag.
func (c *Connector) Type() base.DatabaseType { return base.TypeMongoDB }

// Connect establishes and pings a MongoDB connection. The target database
// name must be resolvable from the config; all introspection is scoped to it.
func (c *Connector) Connect(ctx context.Context, config *base.ConnectionConfig) (base.Connection, error) {
	uri, dbName, err := buildURI(config)
	if err != nil {
		return nil, base.NewConnectorError(base.TypeMongoDB, "Connect", "failed to build URI", err)
	}
	if dbName == "" {
		return nil, base.NewConnectorError(base.TypeMongoDB, "Connect", "database name not found in connection config", nil)
	}

	connectCtx, cancel := context.WithTimeout(ctx, DefaultConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, base.NewConnectorError(base.TypeMongoDB, "Connect", "failed to connect to MongoDB", err)
	}

	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, base.NewConnectorError(base.TypeMongoDB, "Connect", "failed to ping MongoDB", err)
	}

	c.logger.Printf("Connected to MongoDB: %s", base.SanitizeLogString(dbName))
	return &mongoConn{client: client, dbName: dbName}, nil
}

// buildURI assembles the connection URI and resolves the database name.
// Passwords are URL-escaped when the URI is assembled from parameters.
func buildURI(config *base.ConnectionConfig) (uri, dbName string, err error) {
	if config.Method == base.MethodURL {
		u, perr := url.Parse(config.ConnectionString)
		if perr != nil {
			return "", "", perr
		}
		return config.ConnectionString, strings.TrimPrefix(u.Path, "/"), nil
	}

	p := config.Parameters
	uri = fmt.Sprintf("mongodb://%s:%s@%s:%d/%s",
		p.Username, url.QueryEscape(p.Password), p.Host, p.Port, p.Database)
	return uri, p.Database, nil
}

// Disconnect closes the client connection. A second call fails.
func (c *Connector) Disconnect(ctx context.Context, conn base.Connection) error {
	mc, err := c.conn(conn, "Disconnect")
	if err != nil {
		return err
	}

	mc.closed = true
	if err := mc.client.Disconnect(ctx); err != nil {
		return base.NewConnectorError(base.TypeMongoDB, "Disconnect", "failed to disconnect", err)
	}

	c.logger.Printf("Disconnected from MongoDB")
	return nil
}

// ListTables returns the collection names in the connected database.
func (c *Connector) ListTables(ctx context.Context, conn base.Connection) ([]string, error) {
	mc, err := c.conn(conn, "ListTables")
	if err != nil {
		return nil, err
	}

	names, err := mc.client.Database(mc.dbName).ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, base.NewConnectorError(base.TypeMongoDB, "ListTables", "failed to list collections", err)
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// FetchSchema infers per-collection column shapes from randomly sampled
// documents ($sample). An empty collection yields zero columns. This is a
// known approximation: type reflects the runtime value of the sample, and
// every field except the identity field is reported nullable.
func (c *Connector) FetchSchema(ctx context.Context, conn base.Connection, tables []string) ([]base.TableSchema, error) {
	mc, err := c.conn(conn, "FetchSchema")
	if err != nil {
		return nil, err
	}

	db := mc.client.Database(mc.dbName)
	schemas := make([]base.TableSchema, 0, len(tables))
	for _, collection := range tables {
		pipeline := mongo.Pipeline{
			bson.D{{Key: "$sample", Value: bson.D{{Key: "size", Value: c.sampleSize}}}},
		}
		cursor, err := db.Collection(collection).Aggregate(ctx, pipeline)
		if err != nil {
			return nil, base.NewConnectorError(base.TypeMongoDB, "FetchSchema",
				fmt.Sprintf("failed to sample collection %q", collection), err)
		}

		var samples []bson.D
		if err := cursor.All(ctx, &samples); err != nil {
			return nil, base.NewConnectorError(base.TypeMongoDB, "FetchSchema",
				fmt.Sprintf("failed to decode sample for collection %q", collection), err)
		}

		schemas = append(schemas, base.TableSchema{
			TableName: collection,
			Columns:   inferColumns(samples),
		})
	}

	return schemas, nil
}

// inferColumns unions the field shapes of the sampled documents, preserving
// first-seen field order. The identity field is the primary key and the only
// non-nullable one.
func inferColumns(samples []bson.D) []base.TableColumn {
	columns := make([]base.TableColumn, 0)
	seen := make(map[string]bool)

	for _, doc := range samples {
		for _, elem := range doc {
			if seen[elem.Key] {
				continue
			}
			seen[elem.Key] = true
			columns = append(columns, base.TableColumn{
				Name:      elem.Key,
				Type:      bsonTypeName(elem.Value),
				Nullable:  elem.Key != "_id",
				IsPrimary: elem.Key == "_id",
			})
		}
	}

	return columns
}

// bsonTypeName maps a decoded BSON value to the scalar-type vocabulary used
// in inferred schemas.
func bsonTypeName(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case int32, int64, float64:
		return "number"
	case primitive.DateTime, time.Time:
		return "datetime"
	case primitive.ObjectID:
		return "objectId"
	case bson.A:
		return "array"
	case bson.D, bson.M:
		return "object"
	case primitive.Binary:
		return "binary"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// ExecuteQuery runs a read-only aggregation. The query is a JSON document of
// the form {"collection": "<name>", "pipeline": [ ... ]}; markdown fencing is
// stripped first. Write stages ($out, $merge) are rejected.
func (c *Connector) ExecuteQuery(ctx context.Context, conn base.Connection, query string) (*base.QueryExecutionResult, error) {
	mc, err := c.conn(conn, "ExecuteQuery")
	if err != nil {
		return nil, err
	}

	cleaned := base.CleanQuery(query)
	collection, pipeline, err := parseAggregation(cleaned)
	if err != nil {
		return &base.QueryExecutionResult{Success: false, Error: err.Error()}, nil
	}

	cursor, err := mc.client.Database(mc.dbName).Collection(collection).Aggregate(ctx, pipeline)
	if err != nil {
		return &base.QueryExecutionResult{Success: false, Error: err.Error()}, nil
	}
	defer func() { _ = cursor.Close(ctx) }()

	data := make([]base.Row, 0)
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return &base.QueryExecutionResult{Success: false, Error: err.Error()}, nil
		}
		data = append(data, bsonToRow(doc))
	}
	if err := cursor.Err(); err != nil {
		return &base.QueryExecutionResult{Success: false, Error: err.Error()}, nil
	}

	c.logger.Printf("Aggregation executed (%s): %d documents", base.SanitizeLogString(collection), len(data))
	return &base.QueryExecutionResult{Success: true, Data: data}, nil
}

// parseAggregation decodes the query envelope and enforces the read-only
// stage policy.
func parseAggregation(query string) (string, mongo.Pipeline, error) {
	var envelope struct {
		Collection string   `json:"collection" bson:"collection"`
		Pipeline   []bson.M `json:"pipeline" bson:"pipeline"`
	}
	if err := bson.UnmarshalExtJSON([]byte(query), false, &envelope); err != nil {
		return "", nil, fmt.Errorf("query must be a JSON document with collection and pipeline fields: %v", err)
	}
	if envelope.Collection == "" {
		return "", nil, fmt.Errorf("query is missing the collection field")
	}

	pipeline := make(mongo.Pipeline, 0, len(envelope.Pipeline))
	for _, stage := range envelope.Pipeline {
		for name := range stage {
			if name == "$out" || name == "$merge" {
				return "", nil, fmt.Errorf("pipeline stage %s is not allowed: aggregations are read-only", name)
			}
		}
		d := bson.D{}
		for k, v := range stage {
			d = append(d, bson.E{Key: k, Value: v})
		}
		pipeline = append(pipeline, d)
	}

	return envelope.Collection, pipeline, nil
}

// ListDatabases returns the databases visible to the connected user.
func (c *Connector) ListDatabases(ctx context.Context, conn base.Connection) ([]string, error) {
	mc, err := c.conn(conn, "ListDatabases")
	if err != nil {
		return nil, err
	}

	names, err := mc.client.ListDatabaseNames(ctx, bson.D{})
	if err != nil {
		return nil, base.NewConnectorError(base.TypeMongoDB, "ListDatabases", "failed to list databases", err)
	}
	return names, nil
}

// bsonToRow converts a BSON document to a Row with JSON-friendly values.
func bsonToRow(doc bson.M) base.Row {
	row := make(base.Row, len(doc))
	for k, v := range doc {
		row[k] = convertFromBSON(v)
	}
	return row
}

func convertFromBSON(v interface{}) interface{} {
	switch val := v.(type) {
	case primitive.ObjectID:
		return val.Hex()
	case primitive.DateTime:
		return val.Time()
	case primitive.Binary:
		return val.Data
	case bson.M:
		return bsonToRow(val)
	case primitive.D:
		result := make(map[string]interface{}, len(val))
		for _, elem := range val {
			result[elem.Key] = convertFromBSON(elem.Value)
		}
		return result
	case bson.A:
		result := make([]interface{}, len(val))
		for i, item := range val {
			result[i] = convertFromBSON(item)
		}
		return result
	default:
		return val
	}
}

func (c *Connector) conn(conn base.Connection, op string) (*mongoConn, error) {
	mc, ok := conn.(*mongoConn)
	if !ok {
		return nil, base.NewConnectorError(base.TypeMongoDB, op, "connection is not a MongoDB connection", nil)
	}
	if mc.closed {
		return nil, base.NewConnectorError(base.TypeMongoDB, op, "connection is closed", base.ErrClosedConnection)
	}
	return mc, nil
}
