package redis

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/turtacn/molingest/internal/infrastructure/cache"
	"github.com/turtacn/molingest/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molingest/pkg/errors"
)

type CacheTestSuite struct {
	suite.Suite
	mock  redismock.ClientMock
	cache *Cache
}

func (s *CacheTestSuite) SetupTest() {
	db, mock := redismock.NewClientMock()
	s.mock = mock
	client := NewClientFromUniversal(db, "test:", logging.NewNopLogger())
	s.cache = NewCache(client, logging.NewNopLogger(), WithDefaultTTL(time.Minute), WithoutJitter())
}

func (s *CacheTestSuite) TearDownTest() {
	assert.NoError(s.T(), s.mock.ExpectationsWereMet())
}

func (s *CacheTestSuite) TestGet_Hit() {
	s.mock.ExpectGet("test:key1").SetVal("payload")

	got, err := s.cache.Get(context.Background(), "key1")

	s.NoError(err)
	s.Equal([]byte("payload"), got)
}

func (s *CacheTestSuite) TestGet_Miss() {
	s.mock.ExpectGet("test:key1").RedisNil()

	_, err := s.cache.Get(context.Background(), "key1")

	s.True(cache.IsMiss(err))
}

func (s *CacheTestSuite) TestGet_Error() {
	s.mock.ExpectGet("test:key1").SetErr(stderrors.New("boom"))

	_, err := s.cache.Get(context.Background(), "key1")

	s.True(errors.IsCode(err, errors.ErrCodeCacheError))
}

func (s *CacheTestSuite) TestSet_DefaultTTL() {
	s.mock.ExpectSet("test:key1", []byte("v"), time.Minute).SetVal("OK")

	s.NoError(s.cache.Set(context.Background(), "key1", []byte("v"), 0))
}

func (s *CacheTestSuite) TestSet_ExplicitTTL() {
	s.mock.ExpectSet("test:key1", []byte("v"), 5*time.Second).SetVal("OK")

	s.NoError(s.cache.Set(context.Background(), "key1", []byte("v"), 5*time.Second))
}

func (s *CacheTestSuite) TestDelete() {
	s.mock.ExpectDel("test:a", "test:b").SetVal(2)

	s.NoError(s.cache.Delete(context.Background(), "a", "b"))
	s.NoError(s.cache.Delete(context.Background()))
}

func (s *CacheTestSuite) TestGetOrLoad_Miss() {
	s.mock.ExpectGet("test:k").RedisNil()
	s.mock.ExpectSet("test:k", []byte("loaded"), time.Minute).SetVal("OK")

	calls := 0
	got, err := s.cache.GetOrLoad(context.Background(), "k", 0, func(ctx context.Context) ([]byte, error) {
		calls++
		return []byte("loaded"), nil
	})

	s.NoError(err)
	s.Equal([]byte("loaded"), got)
	s.Equal(1, calls)
}

func (s *CacheTestSuite) TestGetOrLoad_Hit() {
	s.mock.ExpectGet("test:k").SetVal("cached")

	got, err := s.cache.GetOrLoad(context.Background(), "k", 0, func(ctx context.Context) ([]byte, error) {
		s.Fail("loader must not run on a hit")
		return nil, nil
	})

	s.NoError(err)
	s.Equal([]byte("cached"), got)
}

func (s *CacheTestSuite) TestGetOrLoad_LoaderError() {
	s.mock.ExpectGet("test:k").RedisNil()

	_, err := s.cache.GetOrLoad(context.Background(), "k", 0, func(ctx context.Context) ([]byte, error) {
		return nil, stderrors.New("source down")
	})

	s.EqualError(err, "source down")
}

func TestCacheTestSuite(t *testing.T) {
	suite.Run(t, new(CacheTestSuite))
}
