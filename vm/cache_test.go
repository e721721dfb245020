package vm

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CosmWasm/wasmvm-go/internal/testcontract"
	"github.com/CosmWasm/wasmvm-go/internal/testdb"
	"github.com/CosmWasm/wasmvm-go/types"
)

const testingGasLimit = 100_000_000

func newTestCacheAt(t *testing.T, baseDir string) *Cache {
	t.Helper()
	cache, err := NewCache(types.CacheOptions{
		BaseDir:                  baseDir,
		InstanceCacheSize:        10,
		InstanceMemoryLimitPages: 512,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return cache
}

func newTestCache(t *testing.T) *Cache {
	return newTestCacheAt(t, t.TempDir())
}

func storeContract(t *testing.T, cache *Cache) types.Checksum {
	t.Helper()
	code, err := testcontract.Contract()
	require.NoError(t, err)
	checksum, err := cache.SaveWasm(code)
	require.NoError(t, err)
	return checksum
}

func mockEnv(t *testing.T) []byte {
	t.Helper()
	env, err := json.Marshal(testdb.Env())
	require.NoError(t, err)
	return env
}

func mockInfo(t *testing.T) []byte {
	t.Helper()
	info, err := json.Marshal(testdb.Info("creator", types.Coins(100, "ustake")))
	require.NoError(t, err)
	return info
}

func TestSaveWasmRoundTrip(t *testing.T) {
	cache := newTestCache(t)
	code, err := testcontract.Contract()
	require.NoError(t, err)

	checksum, err := cache.SaveWasm(code)
	require.NoError(t, err)
	assert.Equal(t, types.GenerateChecksum(code), checksum)

	loaded, err := cache.LoadWasm(checksum)
	require.NoError(t, err)
	assert.Equal(t, code, loaded)

	// identical code maps to the identical checksum
	again, err := cache.SaveWasm(code)
	require.NoError(t, err)
	assert.Equal(t, checksum, again)
}

func TestSaveWasmRejectsInvalidBytecode(t *testing.T) {
	baseDir := t.TempDir()
	cache := newTestCacheAt(t, baseDir)

	_, err := cache.SaveWasm([]byte("not wasm"))
	var valErr ValidationError
	require.ErrorAs(t, err, &valErr)

	// rejected code never reaches the wasm directory
	entries, err := os.ReadDir(filepath.Join(baseDir, "wasm"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLoadWasmMissing(t *testing.T) {
	cache := newTestCache(t)

	_, err := cache.LoadWasm(types.GenerateChecksum([]byte("nothing here")))
	var cacheErr CacheError
	require.ErrorAs(t, err, &cacheErr)
}

func TestLoadWasmIntegrityCheck(t *testing.T) {
	baseDir := t.TempDir()
	cache := newTestCacheAt(t, baseDir)
	checksum := storeContract(t, cache)

	// corrupt the stored file behind the cache's back
	path := filepath.Join(baseDir, "wasm", checksum.String())
	require.NoError(t, os.WriteFile(path, []byte("tampered"), 0o644))

	_, err := cache.LoadWasm(checksum)
	var integrityErr IntegrityError
	require.ErrorAs(t, err, &integrityErr)
	assert.Equal(t, checksum, integrityErr.Expected)
}

func TestRemoveWasm(t *testing.T) {
	cache := newTestCache(t)
	checksum := storeContract(t, cache)

	require.NoError(t, cache.RemoveWasm(checksum))
	_, err := cache.LoadWasm(checksum)
	require.Error(t, err)

	// removing twice fails, the file is already gone
	require.Error(t, cache.RemoveWasm(checksum))
}

func TestCallInit(t *testing.T) {
	cache := newTestCache(t)
	checksum := storeContract(t, cache)
	storage := testdb.NewStorage()

	inst, err := cache.GetInstance(checksum, storage, testdb.NewQuerier("", nil), testdb.API(), testingGasLimit)
	require.NoError(t, err)

	res, err := inst.CallInit(context.Background(), mockEnv(t), mockInfo(t), []byte(`{}`))
	require.NoError(t, err)
	assert.JSONEq(t, testcontract.InitResponse, string(res))

	// init persisted its config entry through db_write
	assert.Equal(t, []byte(testcontract.StorageValue), storage.Get([]byte(testcontract.StorageKey)))

	report := inst.GasReport()
	assert.Equal(t, uint64(testingGasLimit), report.Limit)
	assert.Less(t, report.Remaining, report.Limit)

	cache.StoreInstance(inst)
}

func TestCallHandle(t *testing.T) {
	cache := newTestCache(t)
	checksum := storeContract(t, cache)

	inst, err := cache.GetInstance(checksum, testdb.NewStorage(), testdb.NewQuerier("", nil), testdb.API(), testingGasLimit)
	require.NoError(t, err)
	defer cache.StoreInstance(inst)

	res, err := inst.CallHandle(context.Background(), mockEnv(t), mockInfo(t), []byte(`{"release":{}}`))
	require.NoError(t, err)

	var result types.ContractResult
	require.NoError(t, json.Unmarshal(res, &result))
	require.NotNil(t, result.Ok)
	require.Len(t, result.Ok.Messages, 1)
	send := result.Ok.Messages[0].Msg.Bank.Send
	require.NotNil(t, send)
	assert.Equal(t, testcontract.BeneficiaryAddr, send.ToAddress)
	assert.Equal(t, types.Array[types.Coin]{{Denom: testcontract.PayoutDenom, Amount: testcontract.PayoutAmount}}, send.Amount)
}

func TestCallQuery(t *testing.T) {
	cache := newTestCache(t)
	checksum := storeContract(t, cache)

	inst, err := cache.GetInstance(checksum, testdb.NewStorage(), testdb.NewQuerier("", nil), testdb.API(), testingGasLimit)
	require.NoError(t, err)
	defer cache.StoreInstance(inst)

	res, err := inst.CallQuery(context.Background(), mockEnv(t), []byte(`{"verifier":{}}`))
	require.NoError(t, err)

	var result types.QueryResult
	require.NoError(t, json.Unmarshal(res, &result))
	assert.Empty(t, result.Err)
	assert.Equal(t, testcontract.QueryResponse, result.Ok)
}

func TestQueryCannotWrite(t *testing.T) {
	cache := newTestCache(t)
	code, err := testcontract.WriteOnQueryContract()
	require.NoError(t, err)
	checksum, err := cache.SaveWasm(code)
	require.NoError(t, err)

	storage := testdb.NewStorage()
	inst, err := cache.GetInstance(checksum, storage, testdb.NewQuerier("", nil), testdb.API(), testingGasLimit)
	require.NoError(t, err)
	defer cache.StoreInstance(inst)

	_, err = inst.CallQuery(context.Background(), mockEnv(t), []byte(`{}`))
	var denied WriteAccessDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Nil(t, storage.Get([]byte(testcontract.StorageKey)))

	// writes work again once the readonly call is over
	inst.SetGasLimit(testingGasLimit)
	_, err = inst.CallInit(context.Background(), mockEnv(t), mockInfo(t), []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, []byte(testcontract.StorageValue), storage.Get([]byte(testcontract.StorageKey)))
}

func TestOutOfGas(t *testing.T) {
	cache := newTestCache(t)
	checksum := storeContract(t, cache)

	inst, err := cache.GetInstance(checksum, testdb.NewStorage(), testdb.NewQuerier("", nil), testdb.API(), 1)
	require.NoError(t, err)
	defer cache.StoreInstance(inst)

	_, err = inst.CallInit(context.Background(), mockEnv(t), mockInfo(t), []byte(`{}`))
	var oog OutOfGasError
	require.ErrorAs(t, err, &oog)

	report := inst.GasReport()
	assert.Equal(t, uint64(0), report.Remaining)
}

func TestGasDeterminism(t *testing.T) {
	run := func() uint64 {
		cache := newTestCache(t)
		checksum := storeContract(t, cache)

		inst, err := cache.GetInstance(checksum, testdb.NewStorage(), testdb.NewQuerier("", nil), testdb.API(), testingGasLimit)
		require.NoError(t, err)
		defer cache.StoreInstance(inst)

		_, err = inst.CallInit(context.Background(), mockEnv(t), mockInfo(t), []byte(`{}`))
		require.NoError(t, err)

		report := inst.GasReport()
		return report.Limit - report.Remaining
	}

	first := run()
	second := run()
	assert.Positive(t, first)
	assert.Equal(t, first, second)
}

func TestStatsProgression(t *testing.T) {
	cache := newTestCache(t)
	checksum := storeContract(t, cache)
	assert.Equal(t, Stats{}, cache.Stats())

	// SaveWasm memoized the compiled module, so the first instance is a
	// module hit, not a miss.
	inst, err := cache.GetInstance(checksum, testdb.NewStorage(), testdb.NewQuerier("", nil), testdb.API(), testingGasLimit)
	require.NoError(t, err)
	assert.Equal(t, Stats{HitsModule: 1}, cache.Stats())

	cache.StoreInstance(inst)

	// the recycled instance serves the next request
	inst, err = cache.GetInstance(checksum, testdb.NewStorage(), testdb.NewQuerier("", nil), testdb.API(), testingGasLimit)
	require.NoError(t, err)
	assert.Equal(t, Stats{HitsInstance: 1, HitsModule: 1}, cache.Stats())
	cache.StoreInstance(inst)
}

func TestModuleArtifactSurvivesRestart(t *testing.T) {
	baseDir := t.TempDir()
	first := newTestCacheAt(t, baseDir)
	checksum := storeContract(t, first)
	require.NoError(t, first.Close())

	// a fresh cache over the same directory compiles from the stored
	// instrumented module without touching the raw bytecode
	second := newTestCacheAt(t, baseDir)
	inst, err := second.GetInstance(checksum, testdb.NewStorage(), testdb.NewQuerier("", nil), testdb.API(), testingGasLimit)
	require.NoError(t, err)
	assert.Equal(t, Stats{HitsModule: 1}, second.Stats())

	_, err = inst.CallInit(context.Background(), mockEnv(t), mockInfo(t), []byte(`{}`))
	require.NoError(t, err)
	second.StoreInstance(inst)
}

func TestRecompileAfterArtifactLoss(t *testing.T) {
	baseDir := t.TempDir()
	first := newTestCacheAt(t, baseDir)
	checksum := storeContract(t, first)
	require.NoError(t, first.Close())

	require.NoError(t, os.RemoveAll(filepath.Join(baseDir, "modules")))

	second := newTestCacheAt(t, baseDir)
	inst, err := second.GetInstance(checksum, testdb.NewStorage(), testdb.NewQuerier("", nil), testdb.API(), testingGasLimit)
	require.NoError(t, err)
	assert.Equal(t, Stats{Misses: 1}, second.Stats())
	second.StoreInstance(inst)
}

func TestWarmInstanceExecutes(t *testing.T) {
	cache := newTestCache(t)
	checksum := storeContract(t, cache)
	storage := testdb.NewStorage()

	inst, err := cache.GetInstance(checksum, storage, testdb.NewQuerier("", nil), testdb.API(), testingGasLimit)
	require.NoError(t, err)
	_, err = inst.CallInit(context.Background(), mockEnv(t), mockInfo(t), []byte(`{}`))
	require.NoError(t, err)
	cache.StoreInstance(inst)

	// a warm hit must hand back a live instance
	inst, err = cache.GetInstance(checksum, storage, testdb.NewQuerier("", nil), testdb.API(), testingGasLimit)
	require.NoError(t, err)
	defer cache.StoreInstance(inst)
	assert.Equal(t, Stats{HitsInstance: 1, HitsModule: 1}, cache.Stats())

	res, err := inst.CallQuery(context.Background(), mockEnv(t), []byte(`{"verifier":{}}`))
	require.NoError(t, err)

	var result types.QueryResult
	require.NoError(t, json.Unmarshal(res, &result))
	assert.Empty(t, result.Err)
	assert.Equal(t, testcontract.QueryResponse, result.Ok)
}

func TestWarmPoolCapacityEviction(t *testing.T) {
	cache, err := NewCache(types.CacheOptions{
		BaseDir:                  t.TempDir(),
		InstanceCacheSize:        1,
		InstanceMemoryLimitPages: 512,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })

	first := storeContract(t, cache)
	code, err := testcontract.WriteOnQueryContract()
	require.NoError(t, err)
	second, err := cache.SaveWasm(code)
	require.NoError(t, err)

	instA, err := cache.GetInstance(first, testdb.NewStorage(), testdb.NewQuerier("", nil), testdb.API(), testingGasLimit)
	require.NoError(t, err)
	cache.StoreInstance(instA)

	// pooling a second contract evicts the first one's instance
	instB, err := cache.GetInstance(second, testdb.NewStorage(), testdb.NewQuerier("", nil), testdb.API(), testingGasLimit)
	require.NoError(t, err)
	cache.StoreInstance(instB)

	// the survivor comes back warm and still runs
	storage := testdb.NewStorage()
	inst, err := cache.GetInstance(second, storage, testdb.NewQuerier("", nil), testdb.API(), testingGasLimit)
	require.NoError(t, err)
	_, err = inst.CallInit(context.Background(), mockEnv(t), mockInfo(t), []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, []byte(testcontract.StorageValue), storage.Get([]byte(testcontract.StorageKey)))
	cache.StoreInstance(inst)

	// the evicted contract instantiates again from the module memo
	instA2, err := cache.GetInstance(first, testdb.NewStorage(), testdb.NewQuerier("", nil), testdb.API(), testingGasLimit)
	require.NoError(t, err)
	cache.StoreInstance(instA2)
	assert.Equal(t, Stats{HitsInstance: 1, HitsModule: 3}, cache.Stats())
}

func TestOutOfGasNearLimit(t *testing.T) {
	cache := newTestCache(t)
	checksum := storeContract(t, cache)
	storage := testdb.NewStorage()

	// measure the cost of a successful query
	inst, err := cache.GetInstance(checksum, storage, testdb.NewQuerier("", nil), testdb.API(), testingGasLimit)
	require.NoError(t, err)
	_, err = inst.CallInit(context.Background(), mockEnv(t), mockInfo(t), []byte(`{}`))
	require.NoError(t, err)
	inst.SetGasLimit(testingGasLimit)
	_, err = inst.CallQuery(context.Background(), mockEnv(t), []byte(`{"verifier":{}}`))
	require.NoError(t, err)
	report := inst.GasReport()
	used := report.Limit - report.Remaining
	require.Positive(t, used)
	require.NoError(t, inst.close())

	// any lower limit must surface the typed gas error, no matter where in
	// the call the meter runs dry
	start := uint64(1)
	if used > 400 {
		start = used - 400
	}
	for limit := start; limit < used; limit++ {
		inst, err := cache.GetInstance(checksum, storage, testdb.NewQuerier("", nil), testdb.API(), limit)
		require.NoError(t, err)
		_, err = inst.CallQuery(context.Background(), mockEnv(t), []byte(`{"verifier":{}}`))
		var oog OutOfGasError
		require.ErrorAs(t, err, &oog, "limit %d of %d", limit, used)
		assert.Zero(t, inst.GasReport().Remaining, "limit %d", limit)
		require.NoError(t, inst.close())
	}
}

func TestCallChargesPerByteForArguments(t *testing.T) {
	cache := newTestCache(t)
	checksum := storeContract(t, cache)
	storage := testdb.NewStorage()

	queryUsage := func(msg []byte) uint64 {
		inst, err := cache.GetInstance(checksum, storage, testdb.NewQuerier("", nil), testdb.API(), testingGasLimit)
		require.NoError(t, err)
		defer cache.StoreInstance(inst)
		_, err = inst.CallQuery(context.Background(), mockEnv(t), msg)
		require.NoError(t, err)
		return inst.GasReport().UsedExternally
	}

	small := queryUsage([]byte(`{}`))
	large := queryUsage(append([]byte(`{}`), bytes.Repeat([]byte(" "), 100)...))
	assert.Equal(t, small+100*gasPerByte, large)
}

func TestStoreInstanceReturnsDeps(t *testing.T) {
	cache := newTestCache(t)
	checksum := storeContract(t, cache)

	storage := testdb.NewStorage()
	querier := testdb.NewQuerier("", nil)
	inst, err := cache.GetInstance(checksum, storage, querier, testdb.API(), testingGasLimit)
	require.NoError(t, err)

	gotStorage, gotQuerier := cache.StoreInstance(inst)
	assert.Same(t, storage, gotStorage)
	assert.Same(t, querier, gotQuerier)
}
