package cluster_test

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	elytra "github.com/go-elytra/elytra"
	"github.com/go-elytra/elytra/client"
	"github.com/go-elytra/elytra/cluster"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func startTestServer(t *testing.T, port int) (*cluster.Server, string) {
	t.Helper()
	server, err := cluster.NewServer(&cluster.ServerOptions{
		Host:           "127.0.0.1",
		Port:           port,
		DataDir:        t.TempDir(),
		LivenessPeriod: 100 * time.Millisecond,
		ReaperPeriod:   time.Hour,
		DatasetMaxAge:  time.Hour,
	})
	require.Nil(t, err)
	go func() {
		if err := server.Start(); err != nil {
			panic(err)
		}
	}()
	t.Cleanup(func() { server.GracefulStop() })
	baseURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	require.Eventually(t, func() bool {
		_, err := client.New(baseURL, "test-key").Datasets(context.Background())
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	return server, baseURL
}

func registerTestDataset(t *testing.T, baseURL string, rowGroups []elytra.RowGroup) string {
	t.Helper()
	resp, err := client.New(baseURL, "test-key").RegisterDataset(context.Background(), client.RegisterDatasetRequest{
		Name:       "test-dataset",
		StorageKey: "elytra/test.parquet",
		Bucket:     "test-bucket",
		PublicURL:  "https://example.com/test.parquet",
		RowGroups:  rowGroups,
	})
	require.Nil(t, err)
	require.Equal(t, len(rowGroups), resp.RowGroupCount)
	return resp.DatasetID
}

func dialChannel(t *testing.T, baseURL, role string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws?role=" + role
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Nil(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

// keepAlive pumps reads so the connection answers liveness pings
func keepAlive(ws *websocket.Conn) {
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// fakeWorker is a scripted channel peer: it collects task assignments and
// replies only when the test tells it to
type fakeWorker struct {
	ws    *websocket.Conn
	tasks chan elytra.TaskMessage
}

func newFakeWorker(t *testing.T, baseURL string) *fakeWorker {
	fw := &fakeWorker{
		ws:    dialChannel(t, baseURL, "worker"),
		tasks: make(chan elytra.TaskMessage, 16),
	}
	go func() {
		for {
			_, frame, err := fw.ws.ReadMessage()
			if err != nil {
				close(fw.tasks)
				return
			}
			var task elytra.TaskMessage
			if json.Unmarshal(frame, &task) == nil && task.Type == elytra.MsgExecuteParquetChunk {
				fw.tasks <- task
			}
		}
	}()
	return fw
}

func (fw *fakeWorker) nextTask(t *testing.T) elytra.TaskMessage {
	t.Helper()
	select {
	case task, ok := <-fw.tasks:
		require.True(t, ok, "channel closed before a task arrived")
		return task
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a task")
		return elytra.TaskMessage{}
	}
}

func (fw *fakeWorker) sendResult(t *testing.T, task elytra.TaskMessage, result interface{}) {
	t.Helper()
	raw, err := json.Marshal(result)
	require.Nil(t, err)
	require.Nil(t, fw.ws.WriteJSON(elytra.ResultMessage{
		Type:    elytra.MsgChunkResult,
		JobID:   task.JobID,
		ChunkID: task.ChunkID,
		Result:  raw,
	}))
}

func (fw *fakeWorker) sendError(t *testing.T, task elytra.TaskMessage, msg string) {
	t.Helper()
	require.Nil(t, fw.ws.WriteJSON(elytra.ErrorMessage{
		Type:    elytra.MsgChunkError,
		JobID:   task.JobID,
		ChunkID: task.ChunkID,
		Error:   msg,
	}))
}

func waitForWorkers(t *testing.T, server *cluster.Server, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(server.Registry().Workers()) == n
	}, 5*time.Second, 10*time.Millisecond)
}

func submitAsync(baseURL, datasetID string, ops []elytra.Operation) chan struct {
	result interface{}
	err    error
} {
	out := make(chan struct {
		result interface{}
		err    error
	}, 1)
	go func() {
		result, err := client.New(baseURL, "test-key").Run(context.Background(), datasetID, ops)
		out <- struct {
			result interface{}
			err    error
		}{result, err}
	}()
	return out
}

func threeGroups() []elytra.RowGroup {
	return []elytra.RowGroup{{ID: 0, RowCount: 10}, {ID: 1, RowCount: 10}, {ID: 2, RowCount: 10}}
}

func TestCountFanOut(t *testing.T) {
	server, baseURL := startTestServer(t, 18801)
	datasetID := registerTestDataset(t, baseURL, threeGroups())
	workers := []*fakeWorker{newFakeWorker(t, baseURL), newFakeWorker(t, baseURL), newFakeWorker(t, baseURL)}
	waitForWorkers(t, server, 3)

	done := submitAsync(baseURL, datasetID, []elytra.Operation{elytra.Count()})

	// three chunks round-robin across three workers: one task each
	partials := map[int]interface{}{0: 3, 1: 7, 2: 5}
	for _, fw := range workers {
		task := fw.nextTask(t)
		fw.sendResult(t, task, partials[task.ChunkID])
	}

	out := <-done
	require.Nil(t, out.err)
	require.Equal(t, float64(15), out.result)
	require.Equal(t, 0, server.Coordinator().InFlight())
}

func TestReduceRespectsChunkOrder(t *testing.T) {
	server, baseURL := startTestServer(t, 18802)
	datasetID := registerTestDataset(t, baseURL, threeGroups())
	fw := newFakeWorker(t, baseURL)
	waitForWorkers(t, server, 1)

	done := submitAsync(baseURL, datasetID, []elytra.Operation{
		elytra.Reduce("(a,b)=>a-b", 100),
	})

	// one worker owns every chunk; replies arrive out of chunk order
	tasks := make(map[int]elytra.TaskMessage)
	for i := 0; i < 3; i++ {
		task := fw.nextTask(t)
		tasks[task.ChunkID] = task
	}
	fw.sendResult(t, tasks[2], 5)
	fw.sendResult(t, tasks[0], 10)
	fw.sendResult(t, tasks[1], 20)

	out := <-done
	require.Nil(t, out.err)
	// fold follows chunkId order: 100 - 10 - 20 - 5
	require.Equal(t, float64(65), out.result)
}

func TestConcatDefaultMerge(t *testing.T) {
	server, baseURL := startTestServer(t, 18803)
	datasetID := registerTestDataset(t, baseURL, threeGroups())
	fw := newFakeWorker(t, baseURL)
	waitForWorkers(t, server, 1)

	done := submitAsync(baseURL, datasetID, []elytra.Operation{elytra.Map("(x)=>x")})

	tasks := make(map[int]elytra.TaskMessage)
	for i := 0; i < 3; i++ {
		task := fw.nextTask(t)
		tasks[task.ChunkID] = task
	}
	fw.sendResult(t, tasks[1], []int{3})
	fw.sendResult(t, tasks[2], []int{4, 5})
	fw.sendResult(t, tasks[0], []int{1, 2})

	out := <-done
	require.Nil(t, out.err)
	require.Equal(t, []interface{}{1.0, 2.0, 3.0, 4.0, 5.0}, out.result)
}

func TestSubmitWithoutWorkers(t *testing.T) {
	_, baseURL := startTestServer(t, 18804)
	datasetID := registerTestDataset(t, baseURL, threeGroups())

	_, err := client.New(baseURL, "test-key").Run(context.Background(), datasetID, []elytra.Operation{elytra.Count()})
	var apiErr client.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, 503, apiErr.Status)
	require.Equal(t, "No workers available", apiErr.Message)
}

func TestSubmitUnknownDataset(t *testing.T) {
	server, baseURL := startTestServer(t, 18805)
	newFakeWorker(t, baseURL)
	waitForWorkers(t, server, 1)

	_, err := client.New(baseURL, "test-key").Run(context.Background(), "missing", []elytra.Operation{elytra.Count()})
	var apiErr client.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, 404, apiErr.Status)
}

func TestSubmitWithoutAPIKey(t *testing.T) {
	_, baseURL := startTestServer(t, 18806)
	datasetID := registerTestDataset(t, baseURL, threeGroups())

	_, err := client.New(baseURL, "").Run(context.Background(), datasetID, []elytra.Operation{elytra.Count()})
	var apiErr client.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, 401, apiErr.Status)
}

func TestWorkerErrorAbortsJob(t *testing.T) {
	server, baseURL := startTestServer(t, 18807)
	datasetID := registerTestDataset(t, baseURL, threeGroups())
	fw := newFakeWorker(t, baseURL)
	waitForWorkers(t, server, 1)

	done := submitAsync(baseURL, datasetID, []elytra.Operation{elytra.Count()})

	tasks := make(map[int]elytra.TaskMessage)
	for i := 0; i < 3; i++ {
		task := fw.nextTask(t)
		tasks[task.ChunkID] = task
	}
	fw.sendError(t, tasks[1], "division by zero")

	out := <-done
	var apiErr client.APIError
	require.ErrorAs(t, out.err, &apiErr)
	require.Equal(t, 500, apiErr.Status)
	require.Contains(t, apiErr.Message, "division by zero")

	// late results for the dead job are silently dropped
	fw.sendResult(t, tasks[0], 3)
	fw.sendResult(t, tasks[2], 5)
	require.Eventually(t, func() bool {
		return server.Coordinator().InFlight() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestObserverReceivesProgressInOrder(t *testing.T) {
	server, baseURL := startTestServer(t, 18808)
	observer := dialChannel(t, baseURL, "observer")
	require.Eventually(t, func() bool {
		return len(server.Registry().Observers()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	workerConn := dialChannel(t, baseURL, "worker")
	keepAlive(workerConn)
	waitForWorkers(t, server, 1)
	for _, status := range []string{"A", "B", "C"} {
		require.Nil(t, workerConn.WriteJSON(elytra.ProgressMessage{
			Type:   elytra.MsgWorkerProgress,
			JobID:  1,
			Status: status,
		}))
	}

	for _, want := range []string{"A", "B", "C"} {
		observer.SetReadDeadline(time.Now().Add(5 * time.Second))
		var msg elytra.ProgressMessage
		require.Nil(t, observer.ReadJSON(&msg))
		require.Equal(t, elytra.MsgWorkerProgress, msg.Type)
		require.Equal(t, want, msg.Status)
	}
}

func TestMalformedFramesDoNotKillConnection(t *testing.T) {
	server, baseURL := startTestServer(t, 18809)
	workerConn := dialChannel(t, baseURL, "worker")
	keepAlive(workerConn)
	waitForWorkers(t, server, 1)

	require.Nil(t, workerConn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	require.Nil(t, workerConn.WriteMessage(websocket.TextMessage, []byte(`{"type":"mystery"}`)))

	// the connection survives both frames
	time.Sleep(100 * time.Millisecond)
	require.Len(t, server.Registry().Workers(), 1)
}

func TestLivenessEvictsSilentPeers(t *testing.T) {
	server, baseURL := startTestServer(t, 18810)

	silent := dialChannel(t, baseURL, "worker")
	// swallow pings instead of ponging back
	silent.SetPingHandler(func(string) error { return nil })
	go func() {
		for {
			if _, _, err := silent.ReadMessage(); err != nil {
				return
			}
		}
	}()
	waitForWorkers(t, server, 1)

	require.Eventually(t, func() bool {
		return len(server.Registry().Workers()) == 0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestRestartPersistsDatasets(t *testing.T) {
	dataDir := t.TempDir()
	opts := func(port int) *cluster.ServerOptions {
		return &cluster.ServerOptions{
			Host:           "127.0.0.1",
			Port:           port,
			DataDir:        dataDir,
			LivenessPeriod: time.Hour,
			ReaperPeriod:   time.Hour,
			DatasetMaxAge:  time.Hour,
		}
	}

	first, err := cluster.NewServer(opts(18811))
	require.Nil(t, err)
	go first.Start()
	baseURL := "http://127.0.0.1:18811"
	require.Eventually(t, func() bool {
		_, err := client.New(baseURL, "k").Datasets(context.Background())
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	datasetID := registerTestDataset(t, baseURL, threeGroups())
	require.Nil(t, first.GracefulStop())

	second, err := cluster.NewServer(opts(18812))
	require.Nil(t, err)
	go second.Start()
	defer second.GracefulStop()
	baseURL = "http://127.0.0.1:18812"
	require.Eventually(t, func() bool {
		_, err := client.New(baseURL, "k").Datasets(context.Background())
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	list, err := client.New(baseURL, "k").Datasets(context.Background())
	require.Nil(t, err)
	require.Len(t, list, 1)
	require.Equal(t, datasetID, list[0].ID)
	require.Equal(t, 3, list[0].RowGroupCount)
}
