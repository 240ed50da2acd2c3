package database

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Zoro-chi/FoodOrderingApp/backend"
)

const watchRetryDelay = 2 * time.Second

// changeEvent is the subset of a change stream document the feed uses.
type changeEvent struct {
	OperationType string `bson:"operationType"`
	NS            struct {
		Coll string `bson:"coll"`
	} `bson:"ns"`
	DocumentKey struct {
		ID any `bson:"_id"`
	} `bson:"documentKey"`
	FullDocument             bson.Raw            `bson:"fullDocument"`
	FullDocumentBeforeChange bson.Raw            `bson:"fullDocumentBeforeChange"`
	ClusterTime              primitive.Timestamp `bson:"clusterTime"`
}

// StartWatch opens the database change stream in the background and
// publishes row changes to subscribers until Close. The stream resumes
// after errors from the last seen token.
func (s *Store) StartWatch() {
	ctx, cancel := context.WithCancel(context.Background())
	s.stopWatch = cancel
	s.watchDone = make(chan struct{})

	go func() {
		defer close(s.watchDone)
		var resume bson.Raw
		for {
			token, err := s.watch(ctx, resume)
			if ctx.Err() != nil {
				return
			}
			var lost bool
			resume, lost = nextResume(resume, token, err)
			if lost {
				s.log.WithError(err).Warn("change stream history lost, events may have been missed; restarting from now")
				s.resync()
			} else {
				s.log.WithError(err).Warn("change stream interrupted, reopening")
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(watchRetryDelay):
			}
		}
	}()
}

// Server codes for a resume token the oplog no longer covers.
const (
	codeChangeStreamFatal       = 280
	codeChangeStreamHistoryLost = 286
)

// nextResume picks the token for the next attempt. A token past the oplog
// window can never resume, so it is dropped and lost is reported.
func nextResume(resume, token bson.Raw, err error) (next bson.Raw, lost bool) {
	var se mongo.ServerError
	if errors.As(err, &se) && (se.HasErrorCode(codeChangeStreamHistoryLost) || se.HasErrorCode(codeChangeStreamFatal)) {
		return nil, true
	}
	if token != nil {
		return token, false
	}
	return resume, false
}

// resync tells every watcher to re-read after a gap in the stream.
func (s *Store) resync() {
	now := time.Now().UTC()
	for _, table := range []string{backend.TableProducts, backend.TableOrders, backend.TableOrderItems} {
		s.hub.Publish(backend.ResyncEvent(table, now))
	}
}

func watchPipeline() mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"operationType": bson.M{"$in": bson.A{"insert", "update", "replace", "delete"}},
			"ns.coll": bson.M{"$in": bson.A{
				backend.TableProducts, backend.TableOrders, backend.TableOrderItems,
			}},
		}}},
	}
}

func (s *Store) watch(ctx context.Context, resume bson.Raw) (bson.Raw, error) {
	opts := options.ChangeStream().
		SetFullDocument(options.UpdateLookup).
		SetFullDocumentBeforeChange(options.WhenAvailable)
	if resume != nil {
		opts.SetResumeAfter(resume)
	}

	stream, err := s.db.Watch(ctx, watchPipeline(), opts)
	if err != nil {
		return nil, err
	}
	defer stream.Close(context.Background())

	var last bson.Raw
	for stream.Next(ctx) {
		last = stream.ResumeToken()

		var ce changeEvent
		if err := stream.Decode(&ce); err != nil {
			s.log.WithError(err).Warn("undecodable change event")
			continue
		}
		ev, ok := s.toEvent(ce)
		if !ok {
			continue
		}
		s.hub.Publish(ev)
	}
	if err := stream.Err(); err != nil {
		return last, err
	}
	return last, errors.New("change stream closed")
}

// toEvent maps a change stream document onto a row change event with the
// same record shape as the other backends.
func (s *Store) toEvent(ce changeEvent) (backend.Event, bool) {
	ev := backend.Event{Table: ce.NS.Coll, Timestamp: time.Unix(int64(ce.ClusterTime.T), 0).UTC()}
	if ce.ClusterTime.T == 0 {
		ev.Timestamp = s.now().UTC()
	}

	switch ce.OperationType {
	case "insert":
		ev.Type = backend.EventInsert
	case "update", "replace":
		ev.Type = backend.EventUpdate
	case "delete":
		ev.Type = backend.EventDelete
	default:
		return ev, false
	}

	var err error
	if len(ce.FullDocument) > 0 {
		if ev.Record, err = decodeRecord(ev.Table, ce.FullDocument); err != nil {
			s.log.WithError(err).WithField("table", ev.Table).Warn("undecodable change document")
			return ev, false
		}
	}
	if len(ce.FullDocumentBeforeChange) > 0 {
		if ev.OldRecord, err = decodeRecord(ev.Table, ce.FullDocumentBeforeChange); err != nil {
			s.log.WithError(err).WithField("table", ev.Table).Debug("undecodable pre-image")
		}
	}
	if ev.Type == backend.EventDelete && ev.OldRecord == nil {
		ev.OldRecord = map[string]any{"id": ce.DocumentKey.ID}
	}
	return ev, true
}

func decodeRecord(table string, raw bson.Raw) (map[string]any, error) {
	switch table {
	case backend.TableProducts:
		var d productDoc
		if err := bson.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		p, err := d.model()
		if err != nil {
			return nil, err
		}
		return backend.ProductRecord(p), nil
	case backend.TableOrders:
		var d orderDoc
		if err := bson.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		o, err := d.model()
		if err != nil {
			return nil, err
		}
		return backend.OrderRecord(o), nil
	case backend.TableOrderItems:
		var d orderItemDoc
		if err := bson.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		return backend.OrderItemRecord(d.model()), nil
	}
	return nil, errors.New("unwatched table " + table)
}
