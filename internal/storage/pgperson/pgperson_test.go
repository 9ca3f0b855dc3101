package pgperson

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/MedPass/internal/models"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startStorage(t *testing.T) *Storage {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "medpass_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://admin:admin@" + host + ":" + port.Port() + "/medpass_test?sslmode=disable"
	st, err := New(dsn)
	require.NoError(t, err)
	t.Cleanup(st.Close)
	return st
}

func TestPGPerson_RepoFlow(t *testing.T) {
	if testing.Short() {
		t.Skip("needs docker")
	}
	st := startStorage(t)
	ctx := context.Background()
	national := []int64{1}

	// регионы: без URL регион не должен попадать в кандидаты, но хранится
	u1, u2 := "http://almaty/api", "http://astana/api"
	r1 := &models.Region{Name: "Almaty", Country: "KZ", DmedURL: &u1, DmedPriority: 20}
	r2 := &models.Region{Name: "Astana", Country: "KZ", DmedURL: &u2, DmedPriority: 10}
	r3 := &models.Region{Name: "Shymkent", Country: "KZ", DmedPriority: 1}
	for _, r := range []*models.Region{r1, r2, r3} {
		require.NoError(t, st.CreateRegion(ctx, r))
	}
	regions, err := st.ListRegions(ctx)
	require.NoError(t, err)
	require.Len(t, regions, 3)
	require.Equal(t, r3.ID, regions[0].ID)
	require.Nil(t, regions[0].DmedURL)

	// create-or-get идемпотентен
	p, err := st.CreateOrGetPerson(ctx, "900101300017", national, 1)
	require.NoError(t, err)
	require.NotZero(t, p.ID)
	require.Equal(t, int64(1), p.CitizenshipID)
	require.False(t, p.Enriched())

	again, err := st.CreateOrGetPerson(ctx, "900101300017", national, 1)
	require.NoError(t, err)
	require.Equal(t, p.ID, again.ID)

	// обогащение и сохранение
	dmedID, rpn := int64(501), int64(5010)
	p.DmedID = &dmedID
	p.DmedRPNID = &rpn
	p.DmedRegionID = &r2.ID
	p.FirstName, p.SecondName, p.LastName = "Айдар", "Серикович", "Нуров"
	require.NoError(t, st.SavePerson(ctx, p))
	require.Equal(t, "Айдар Серикович Нуров", p.FullName)

	got, err := st.GetPersonByID(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, dmedID, *got.DmedID)
	require.Equal(t, r2.ID, *got.DmedRegionID)
	require.Equal(t, "Айдар Серикович Нуров", got.FullName)

	// маркеры: повторный union не дублирует связь
	ms, err := st.UnionMarkers(ctx, p.ID, []models.Marker{{ID: 52, Name: "X"}})
	require.NoError(t, err)
	require.Equal(t, []models.Marker{{ID: 52, Name: "X"}}, ms)
	ms, err = st.UnionMarkers(ctx, p.ID, []models.Marker{{ID: 52, Name: "X"}})
	require.NoError(t, err)
	require.Len(t, ms, 1)

	// конфликт (doc_id, citizenship)
	_, err = st.CreatePerson(ctx, models.PersonCreateInput{DocID: "900101300017", CitizenshipID: 1})
	require.ErrorIs(t, err, models.ErrConflict)

	foreign, err := st.CreatePerson(ctx, models.PersonCreateInput{DocID: "900101300017", CitizenshipID: 2, FullName: "Foreign"})
	require.NoError(t, err)
	foreign.CitizenshipID = 1
	require.ErrorIs(t, st.SavePerson(ctx, foreign), models.ErrConflict)

	_, err = st.GetPersonByID(ctx, 999999)
	require.ErrorIs(t, err, models.ErrNotFound)

	c, err := st.GetOrCreateCountry(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, int64(7), c.ID)

	// проходы и температура
	cp := &models.Checkpoint{Name: "Khorgos", RegionID: &r1.ID}
	require.NoError(t, st.CreateCheckpoint(ctx, cp))
	gotCP, err := st.GetCheckpoint(ctx, cp.ID)
	require.NoError(t, err)
	require.Equal(t, r1.ID, *gotCP.RegionID)

	t1, t2 := 36.6, 37.9
	now := time.Now().UTC()
	require.NoError(t, st.RecordPass(ctx, &models.CheckpointPass{CheckpointID: cp.ID, PersonID: p.ID, Temperature: &t1, PassedAt: now.Add(-time.Hour)}))
	require.NoError(t, st.RecordPass(ctx, &models.CheckpointPass{CheckpointID: cp.ID, PersonID: p.ID, Temperature: &t2, PassedAt: now}))
	got, err = st.GetPersonByID(ctx, p.ID)
	require.NoError(t, err)
	require.InDelta(t, t2, *got.Temperature, 1e-9)

	passes, err := st.ListPasses(ctx, p.ID, 10)
	require.NoError(t, err)
	require.Len(t, passes, 2)

	// камеры
	capt := &models.CameraCapture{CameraID: "cam-1", CheckpointID: cp.ID, Vehicle: models.Vehicle{Grnz: "123ABC02", Model: "Camry"}, CapturedAt: now}
	require.NoError(t, st.RecordCapture(ctx, capt))
	require.NotZero(t, capt.ID)
	capt2 := &models.CameraCapture{CameraID: "cam-1", CheckpointID: cp.ID, Vehicle: models.Vehicle{Grnz: "123ABC02"}, CapturedAt: now.Add(time.Minute)}
	require.NoError(t, st.RecordCapture(ctx, capt2))
	require.Equal(t, "Camry", capt2.Vehicle.Model)

	caps, err := st.ListCaptures(ctx, cp.ID, now.Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, caps, 2)
}

func TestPGPerson_ClaimPendingEnrichment(t *testing.T) {
	if testing.Short() {
		t.Skip("needs docker")
	}
	st := startStorage(t)
	ctx := context.Background()
	national := []int64{1}

	due, err := st.CreateOrGetPerson(ctx, "900101300017", national, 1)
	require.NoError(t, err)
	later, err := st.CreateOrGetPerson(ctx, "950312300458", national, 1)
	require.NoError(t, err)
	_, err = st.CreatePerson(ctx, models.PersonCreateInput{DocID: "AB123456", CitizenshipID: 1})
	require.NoError(t, err)
	_, err = st.CreatePerson(ctx, models.PersonCreateInput{DocID: "880202400123", CitizenshipID: 3})
	require.NoError(t, err)

	_, err = st.db.Exec(ctx, `UPDATE persons SET next_enrich_at = now() - interval '1 minute'`)
	require.NoError(t, err)
	require.NoError(t, st.ScheduleEnrichment(ctx, later.ID, time.Now().Add(time.Hour), 1, nil))

	now := time.Now().UTC()
	lease := 10 * time.Second
	tasks, err := st.ClaimPendingEnrichment(ctx, now, 10, lease, national)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, due.ID, tasks[0].PersonID)
	require.Equal(t, "900101300017", tasks[0].DocID)
	require.WithinDuration(t, now.Add(lease), tasks[0].NextEnrichAt, 2*time.Second)

	// под lease повторно не выдаётся
	tasks, err = st.ClaimPendingEnrichment(ctx, now, 10, lease, national)
	require.NoError(t, err)
	require.Empty(t, tasks)

	require.NoError(t, st.RequeueEnrichment(ctx, later.ID))
	tasks, err = st.ClaimPendingEnrichment(ctx, time.Now().UTC().Add(time.Second), 10, lease, national)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, later.ID, tasks[0].PersonID)
	require.Zero(t, tasks[0].FailCount)

	require.ErrorIs(t, st.RequeueEnrichment(ctx, 999999), models.ErrNotFound)
}
