package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/server"
	"github.com/Tyrowin/roomchat/internal/testhelpers"
)

const quiet = 200 * time.Millisecond

func startServer(t *testing.T, configure func(cfg *server.Config)) *server.Server {
	t.Helper()

	cfg := server.NewConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.ShutdownTimeout = 2 * time.Second
	if configure != nil {
		configure(cfg)
	}

	srv := server.New(*cfg)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Shutdown(2 * time.Second) })
	return srv
}

func join(t *testing.T, srv *server.Server, nickname string) *testhelpers.LineClient {
	t.Helper()

	want := srv.Registry().SessionCount() + 1
	c := testhelpers.Join(t, srv.Addr().String(), nickname)
	testhelpers.Eventually(t, func() bool { return srv.Registry().SessionCount() >= want }, "session registered")
	return c
}

func roomSize(srv *server.Server, name string) int {
	for _, room := range srv.Registry().ListRooms() {
		if room.Name == name {
			return room.Size
		}
	}
	return -1
}

func TestRoomListingForNewSession(t *testing.T) {
	srv := startServer(t, nil)
	alice := join(t, srv, "alice")

	alice.Send("")
	alice.Send("/room")
	alice.Expect("[AnterRoom] [Size : 1] [Owner : alice]")
	alice.ExpectNoMessage(quiet)
}

func TestCreateRoomVisibleToOthers(t *testing.T) {
	srv := startServer(t, nil)
	alice := join(t, srv, "alice")

	alice.Send("/create")
	alice.Expect("Input RoomName!")
	alice.Send("myroom")
	testhelpers.Eventually(t, func() bool { return roomSize(srv, "myroom") == 1 }, "myroom created")
	assert.Equal(t, 0, roomSize(srv, "AnterRoom"))

	bob := join(t, srv, "bob")
	bob.Send("/room")
	bob.Expect("[AnterRoom] [Size : 1] [Owner : bob]")
	bob.Expect("[myroom] [Size : 1] [Owner : alice]")
}

func TestRoomSurvivesMemberDisconnectAndDiesOnLastExit(t *testing.T) {
	srv := startServer(t, nil)
	alice := join(t, srv, "alice")
	alice.Send("/create")
	alice.Expect("Input RoomName!")
	alice.Send("myroom")
	testhelpers.Eventually(t, func() bool { return roomSize(srv, "myroom") == 1 }, "myroom created")

	bob := join(t, srv, "bob")
	bob.Send("/enter")
	bob.Expect("Input RoomName!")
	bob.Send("myroom")
	testhelpers.Eventually(t, func() bool { return roomSize(srv, "myroom") == 2 }, "bob entered")

	bob.Close()
	testhelpers.Eventually(t, func() bool { return roomSize(srv, "myroom") == 1 }, "bob removed")
	assert.Equal(t, 0, roomSize(srv, "AnterRoom"), "lobby still exists")

	alice.Send("/exit")
	testhelpers.Eventually(t, func() bool { return roomSize(srv, "myroom") == -1 }, "myroom deleted")

	alice.Send("/room")
	alice.Expect("[AnterRoom] [Size : 1] [Owner : alice]")
	alice.ExpectNoMessage(quiet)
}

func TestBroadcastReachesEveryMemberOnce(t *testing.T) {
	srv := startServer(t, nil)
	a := join(t, srv, "A")
	b := join(t, srv, "B")
	c := join(t, srv, "C")

	a.Send("hello room")
	for _, client := range []*testhelpers.LineClient{a, b, c} {
		client.Expect("A : hello room")
	}
	for _, client := range []*testhelpers.LineClient{a, b, c} {
		client.ExpectNoMessage(quiet)
	}
}

func TestWhisperReachesOnlyTarget(t *testing.T) {
	srv := startServer(t, nil)
	a := join(t, srv, "A")
	b := join(t, srv, "B")
	c := join(t, srv, "C")

	a.Send("/w")
	a.Expect("Input NickName!")
	a.Send("B")
	a.Expect("Input Message!")
	a.Send("psst")

	b.Expect("[Whisper]A : psst")
	a.ExpectNoMessage(quiet)
	c.ExpectNoMessage(quiet)

	a.Send("/w")
	a.Expect("Input NickName!")
	a.Send("nobody")
	a.Expect("Input Message!")
	a.Send("anyone?")
	a.ExpectNoMessage(quiet)
	b.ExpectNoMessage(quiet)
}

func TestRawFramingTreatsEachReadAsFrame(t *testing.T) {
	srv := startServer(t, func(cfg *server.Config) { cfg.Framing = server.FramingRaw })
	client := testhelpers.DialLine(t, srv.Addr().String())

	_, err := client.Conn().Write([]byte("alice"))
	require.NoError(t, err)
	testhelpers.Eventually(t, func() bool { return srv.Registry().SessionCount() == 1 }, "alice registered")

	_, err = client.Conn().Write([]byte("/room"))
	require.NoError(t, err)
	client.Expect("[AnterRoom] [Size : 1] [Owner : alice]")

	client.Close()
	testhelpers.Eventually(t, func() bool { return srv.SessionCount() == 0 }, "session torn down")
}

func TestServerFullRejectsConnection(t *testing.T) {
	srv := startServer(t, func(cfg *server.Config) { cfg.MaxSessions = 1 })
	join(t, srv, "alice")

	rejected := testhelpers.DialLine(t, srv.Addr().String())
	rejected.Expect("Server is full. Please try again later.")
	rejected.ExpectClosed()
	assert.Equal(t, 1, srv.SessionCount())
}

func TestIdleSessionIsDisconnected(t *testing.T) {
	srv := startServer(t, func(cfg *server.Config) { cfg.IdleTimeout = 300 * time.Millisecond })
	alice := join(t, srv, "alice")

	alice.ExpectClosed()
	testhelpers.Eventually(t, func() bool { return srv.Registry().SessionCount() == 0 }, "idle session removed")
}

func TestShutdownClosesSessions(t *testing.T) {
	srv := startServer(t, nil)
	alice := join(t, srv, "alice")
	bob := join(t, srv, "bob")
	pending := testhelpers.DialLine(t, srv.Addr().String())
	testhelpers.Eventually(t, func() bool { return srv.SessionCount() == 3 }, "all connected")

	require.NoError(t, srv.Shutdown(2*time.Second))

	alice.ExpectClosed()
	bob.ExpectClosed()
	pending.ExpectClosed()
	assert.Equal(t, 0, srv.SessionCount())
	assert.Equal(t, 0, srv.Registry().SessionCount())
	assert.Equal(t, 1, srv.Registry().RoomCount())

	assert.NoError(t, srv.Shutdown(time.Second), "second shutdown is a no-op")
	assert.ErrorIs(t, srv.Start(), server.ErrServerStopped)
}

func TestStartFailsWhenAddressInUse(t *testing.T) {
	first := startServer(t, nil)

	cfg := server.NewConfig()
	cfg.ListenAddr = first.Addr().String()
	second := server.New(*cfg)

	assert.Error(t, second.Start())
	assert.Nil(t, second.Addr())
}

func TestStartTwice(t *testing.T) {
	srv := startServer(t, nil)
	assert.ErrorIs(t, srv.Start(), server.ErrAlreadyStarted)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	cfg := server.NewConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	srv := server.New(*cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	testhelpers.Eventually(t, func() bool { return srv.Addr() != nil }, "server listening")
	alice := join(t, srv, "alice")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	alice.ExpectClosed()
}

func startGateway(t *testing.T) (*server.Server, string) {
	t.Helper()

	srv := startServer(t, func(cfg *server.Config) {
		cfg.HTTPAddr = "127.0.0.1:0"
		cfg.AllowedOrigins = []string{testhelpers.TestOrigin}
	})
	require.NotNil(t, srv.HTTPAddr())
	return srv, srv.HTTPAddr().String()
}

func TestWebSocketSessionSharesRoomsWithTCP(t *testing.T) {
	srv, httpAddr := startGateway(t)

	ws, err := testhelpers.ConnectWebSocket("ws://" + httpAddr + "/ws")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	require.NoError(t, testhelpers.SendText(ws, "alice"))
	testhelpers.Eventually(t, func() bool { return srv.Registry().SessionCount() == 1 }, "alice registered")

	bob := join(t, srv, "bob")
	bob.Send("hi from tcp")
	bob.Expect("bob : hi from tcp")

	text, err := testhelpers.ReadText(ws, testhelpers.DefaultTimeout)
	require.NoError(t, err)
	assert.Equal(t, "bob : hi from tcp", text)

	require.NoError(t, testhelpers.SendText(ws, "/room"))
	text, err = testhelpers.ReadText(ws, testhelpers.DefaultTimeout)
	require.NoError(t, err)
	assert.Equal(t, "[AnterRoom] [Size : 2] [Owner : alice]\n", text)

	require.NoError(t, testhelpers.CloseWebSocket(ws))
	testhelpers.Eventually(t, func() bool { return srv.Registry().SessionCount() == 1 }, "websocket session removed")
}

func TestWebSocketRejectsDisallowedOrigin(t *testing.T) {
	srv, httpAddr := startGateway(t)

	_, err := testhelpers.ConnectWebSocketWithOrigin("ws://"+httpAddr+"/ws", "http://evil.example")
	assert.Error(t, err)
	assert.Equal(t, 0, srv.SessionCount())
}

func TestGatewayRoomsEndpoint(t *testing.T) {
	srv, httpAddr := startGateway(t)
	join(t, srv, "alice")

	resp := testhelpers.MakeRequest(t, http.MethodGet, "http://"+httpAddr+"/rooms")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rooms []server.RoomSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rooms))
	require.Len(t, rooms, 1)
	assert.Equal(t, "AnterRoom", rooms[0].Name)
	assert.Equal(t, 1, rooms[0].Size)
	assert.Equal(t, "alice", rooms[0].Owner)
}
