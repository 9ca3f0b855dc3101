package persons

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/BearBump/MedPass/internal/models"
	"github.com/BearBump/MedPass/internal/services/reconcile"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type mockRepository struct{ mock.Mock }

func (m *mockRepository) GetPersonByID(ctx context.Context, id int64) (*models.Person, error) {
	args := m.Called(ctx, id)
	p, _ := args.Get(0).(*models.Person)
	return p, args.Error(1)
}

func (m *mockRepository) CreatePerson(ctx context.Context, in models.PersonCreateInput) (*models.Person, error) {
	args := m.Called(ctx, in)
	p, _ := args.Get(0).(*models.Person)
	return p, args.Error(1)
}

func (m *mockRepository) SavePerson(ctx context.Context, p *models.Person) error {
	return m.Called(ctx, p).Error(0)
}

func (m *mockRepository) ListMarkers(ctx context.Context, personID int64) ([]models.Marker, error) {
	args := m.Called(ctx, personID)
	ms, _ := args.Get(0).([]models.Marker)
	return ms, args.Error(1)
}

func (m *mockRepository) GetOrCreateCountry(ctx context.Context, id int64) (*models.Country, error) {
	args := m.Called(ctx, id)
	c, _ := args.Get(0).(*models.Country)
	return c, args.Error(1)
}

func (m *mockRepository) ListPasses(ctx context.Context, personID int64, limit int) ([]*models.CheckpointPass, error) {
	args := m.Called(ctx, personID, limit)
	ps, _ := args.Get(0).([]*models.CheckpointPass)
	return ps, args.Error(1)
}

func (m *mockRepository) RequeueEnrichment(ctx context.Context, personID int64) error {
	return m.Called(ctx, personID).Error(0)
}

type mockResolver struct{ mock.Mock }

func (m *mockResolver) Resolve(ctx context.Context, docID string, home *int64) (*reconcile.Result, error) {
	args := m.Called(ctx, docID, home)
	r, _ := args.Get(0).(*reconcile.Result)
	return r, args.Error(1)
}

type mockBytesCache struct{ mock.Mock }

func (m *mockBytesCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	args := m.Called(ctx, key)
	b, _ := args.Get(0).([]byte)
	return b, args.Bool(1), args.Error(2)
}

func (m *mockBytesCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return m.Called(ctx, key, value, ttl).Error(0)
}

func (m *mockBytesCache) Delete(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

type ServiceSuite struct {
	suite.Suite

	repo     *mockRepository
	resolver *mockResolver
	cache    *mockBytesCache
	svc      *Service
}

func (s *ServiceSuite) SetupTest() {
	s.repo = &mockRepository{}
	s.resolver = &mockResolver{}
	s.cache = &mockBytesCache{}
	s.svc = New(s.repo, s.resolver, s.cache, 10*time.Minute, nil)
}

func (s *ServiceSuite) TestLookup_IINGoesThroughResolver() {
	regionID := int64(2)
	p := &models.Person{ID: 5, DocID: "900101300017", CitizenshipID: 1}
	s.resolver.On("Resolve", mock.Anything, "900101300017", (*int64)(nil)).
		Return(&reconcile.Result{Person: p, Outcome: reconcile.OutcomeMerged, RegionID: &regionID}, nil).
		Once()
	s.cache.On("Set", mock.Anything, "person:5:current", mock.Anything, 10*time.Minute).Return(nil).Once()

	got, err := s.svc.Lookup(context.Background(), "900101300017", nil)
	s.Require().NoError(err)
	s.Require().Equal(int64(5), got.ID)
	s.resolver.AssertExpectations(s.T())
	s.cache.AssertExpectations(s.T())
	s.repo.AssertNotCalled(s.T(), "GetPersonByID", mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestLookup_NumericKeyIsPrimaryKey() {
	p := &models.Person{ID: 42, DocID: "AB123"}
	s.cache.On("Get", mock.Anything, "person:42:current").Return(nil, false, nil).Once()
	s.repo.On("GetPersonByID", mock.Anything, int64(42)).Return(p, nil).Once()
	s.cache.On("Set", mock.Anything, "person:42:current", mock.Anything, 10*time.Minute).Return(nil).Once()

	got, err := s.svc.Lookup(context.Background(), "42", nil)
	s.Require().NoError(err)
	s.Require().Equal("AB123", got.DocID)
	s.resolver.AssertNotCalled(s.T(), "Resolve", mock.Anything, mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestLookup_GarbageRejected() {
	for _, key := range []string{"abc", "-1", "0", "900101300018x"} {
		_, err := s.svc.Lookup(context.Background(), key, nil)
		s.Require().ErrorIs(err, models.ErrInvalidIdentifier, key)
	}
}

func (s *ServiceSuite) TestResolvePerson_InvalidIdentifier() {
	_, err := s.svc.ResolvePerson(context.Background(), "900101300018", nil)
	s.Require().ErrorIs(err, models.ErrInvalidIdentifier)
	s.resolver.AssertNotCalled(s.T(), "Resolve", mock.Anything, mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestResolvePerson_GatewayErrorSurfaces() {
	s.resolver.On("Resolve", mock.Anything, "900101300017", mock.Anything).
		Return(&reconcile.Result{Person: &models.Person{ID: 1}, Outcome: reconcile.OutcomeExhausted}, reconcile.ErrAllRegistriesFailed).
		Once()

	_, err := s.svc.ResolvePerson(context.Background(), "900101300017", nil)
	s.Require().ErrorIs(err, reconcile.ErrAllRegistriesFailed)
	s.cache.AssertNotCalled(s.T(), "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestGetPerson_CacheHit_NoDB() {
	b, _ := json.Marshal(&models.Person{ID: 7, DocID: "X"})
	s.cache.On("Get", mock.Anything, "person:7:current").Return(b, true, nil).Once()

	got, err := s.svc.GetPerson(context.Background(), 7)
	s.Require().NoError(err)
	s.Require().Equal("X", got.DocID)
	s.repo.AssertNotCalled(s.T(), "GetPersonByID", mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestGetPerson_CacheErrorFallsBackToDB() {
	s.cache.On("Get", mock.Anything, "person:7:current").Return(nil, false, errors.New("redis down")).Once()
	s.repo.On("GetPersonByID", mock.Anything, int64(7)).Return(&models.Person{ID: 7}, nil).Once()
	s.cache.On("Set", mock.Anything, "person:7:current", mock.Anything, mock.Anything).Return(errors.New("redis down")).Once()

	got, err := s.svc.GetPerson(context.Background(), 7)
	s.Require().NoError(err)
	s.Require().Equal(int64(7), got.ID)
}

func (s *ServiceSuite) TestGetPerson_NotFound() {
	s.cache.On("Get", mock.Anything, "person:9:current").Return(nil, false, nil).Once()
	s.repo.On("GetPersonByID", mock.Anything, int64(9)).Return(nil, models.ErrNotFound).Once()

	_, err := s.svc.GetPerson(context.Background(), 9)
	s.Require().ErrorIs(err, models.ErrNotFound)
}

func (s *ServiceSuite) TestCreatePerson_Validation() {
	_, err := s.svc.CreatePerson(context.Background(), models.PersonCreateInput{CitizenshipID: 1})
	s.Require().ErrorIs(err, models.ErrInvalidInput)
	_, err = s.svc.CreatePerson(context.Background(), models.PersonCreateInput{DocID: "X"})
	s.Require().ErrorIs(err, models.ErrInvalidInput)
	_, err = s.svc.CreatePerson(context.Background(), models.PersonCreateInput{DocID: "X", CitizenshipID: 1, Sex: "Q"})
	s.Require().ErrorIs(err, models.ErrInvalidInput)
	s.repo.AssertNotCalled(s.T(), "CreatePerson", mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestCreatePerson_Conflict() {
	in := models.PersonCreateInput{DocID: "X", CitizenshipID: 1}
	s.repo.On("CreatePerson", mock.Anything, in).Return(nil, models.ErrConflict).Once()

	_, err := s.svc.CreatePerson(context.Background(), models.PersonCreateInput{DocID: " X ", CitizenshipID: 1})
	s.Require().ErrorIs(err, models.ErrConflict)
	s.repo.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestUpdatePerson_LockedFieldsKept() {
	cur := &models.Person{ID: 3, DocID: "X", CitizenshipID: 1, FullName: "A B"}
	s.repo.On("GetPersonByID", mock.Anything, int64(3)).Return(cur, nil).Once()
	s.repo.On("SavePerson", mock.Anything, mock.MatchedBy(func(p *models.Person) bool {
		return p.FullName == "A B" && p.StudyPlace == "KBTU"
	})).Return(nil).Once()
	s.cache.On("Set", mock.Anything, "person:3:current", mock.Anything, 10*time.Minute).Return(nil).Once()

	full, study := "C D", "KBTU"
	got, dropped, err := s.svc.UpdatePerson(context.Background(), 3, models.PersonPatch{FullName: &full, StudyPlace: &study})
	s.Require().NoError(err)
	s.Require().Equal("A B", got.FullName)
	s.Require().Equal([]string{"full_name"}, dropped)
	s.repo.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestUpdatePerson_NothingApplicableSkipsSave() {
	cur := &models.Person{ID: 3, DocID: "X", CitizenshipID: 1, FullName: "A B"}
	s.repo.On("GetPersonByID", mock.Anything, int64(3)).Return(cur, nil).Once()

	full := "C D"
	_, dropped, err := s.svc.UpdatePerson(context.Background(), 3, models.PersonPatch{FullName: &full})
	s.Require().NoError(err)
	s.Require().Equal([]string{"full_name"}, dropped)
	s.repo.AssertNotCalled(s.T(), "SavePerson", mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestListMarkers_EmptyIsNotNil() {
	s.repo.On("GetPersonByID", mock.Anything, int64(3)).Return(&models.Person{ID: 3}, nil).Once()
	s.repo.On("ListMarkers", mock.Anything, int64(3)).Return(nil, nil).Once()

	ms, err := s.svc.ListMarkers(context.Background(), 3)
	s.Require().NoError(err)
	s.Require().NotNil(ms)
	s.Require().Empty(ms)
}

func (s *ServiceSuite) TestReenrich() {
	s.repo.On("RequeueEnrichment", mock.Anything, int64(3)).Return(nil).Once()
	s.Require().NoError(s.svc.Reenrich(context.Background(), 3))
	s.Require().ErrorIs(s.svc.Reenrich(context.Background(), 0), models.ErrInvalidInput)
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}
