// Command batchpipelining demonstrates the batch-at-a-time HTTP transport
// profile with a plan that pipelines three dependent calls into a single
// round trip: authenticate a session token, then fetch that user's profile
// and notifications off the still-unresolved user id.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/capnweb-go/capnweb"
)

// User is a session's authenticated identity.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Profile is a user's public profile.
type Profile struct {
	ID  string `json:"id"`
	Bio string `json:"bio"`
}

// UserServer answers authenticate/getUserProfile/getNotifications against
// sample in-memory data keyed by session token and user id.
type UserServer struct {
	*capnweb.BaseRpcTarget
	users         map[string]User
	profiles      map[string]Profile
	notifications map[string][]string
}

func newUserServer() *UserServer {
	s := &UserServer{
		BaseRpcTarget: capnweb.NewBaseRpcTarget(nil),
		users:         make(map[string]User),
		profiles:      make(map[string]Profile),
		notifications: make(map[string][]string),
	}
	s.seedData()
	s.Method("authenticate", s.authenticate)
	s.Method("getUserProfile", s.getUserProfile)
	s.Method("getNotifications", s.getNotifications)
	return s
}

func (s *UserServer) seedData() {
	s.users["cookie-123"] = User{ID: "u_1", Name: "Ada Lovelace"}
	s.users["cookie-456"] = User{ID: "u_2", Name: "Alan Turing"}

	s.profiles["u_1"] = Profile{ID: "u_1", Bio: "Mathematician & first programmer"}
	s.profiles["u_2"] = Profile{ID: "u_2", Bio: "Mathematician & computer science pioneer"}

	s.notifications["u_1"] = []string{"Welcome!", "You have 2 new followers"}
	s.notifications["u_2"] = []string{"New feature: pipelining!", "Security tips for your account"}
}

func firstArgString(args []any) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("expected one string argument")
	}
	s, ok := args[0].(string)
	if !ok {
		return "", fmt.Errorf("expected a string argument, got %T", args[0])
	}
	return s, nil
}

func (s *UserServer) authenticate(_ *capnweb.InvokeContext, args []any) (any, error) {
	token, err := firstArgString(args)
	if err != nil {
		return nil, err
	}
	user, ok := s.users[token]
	if !ok {
		return nil, fmt.Errorf("invalid session")
	}
	// A plain map, not the User struct, so a pipelined ["pipeline", cid,
	// ["id"]] can walk into it (wire.Walk only navigates decoded JSON trees).
	return map[string]any{"id": user.ID, "name": user.Name}, nil
}

func (s *UserServer) getUserProfile(_ *capnweb.InvokeContext, args []any) (any, error) {
	userID, err := firstArgString(args)
	if err != nil {
		return nil, err
	}
	profile, ok := s.profiles[userID]
	if !ok {
		return nil, fmt.Errorf("no such user")
	}
	return profile, nil
}

func (s *UserServer) getNotifications(_ *capnweb.InvokeContext, args []any) (any, error) {
	userID, err := firstArgString(args)
	if err != nil {
		return nil, err
	}
	notifications, ok := s.notifications[userID]
	if !ok {
		return []string{}, nil
	}
	return notifications, nil
}

func main() {
	staticPath := "../static"
	if len(os.Args) >= 2 {
		staticPath = os.Args[1]
	}
	port := ":8000"

	e := capnweb.SetupEchoServer()
	capnweb.SetupRpcEndpoint(e, "/rpc", func() capnweb.ContextualHost { return newUserServer() })
	e.Static("/static", staticPath)

	log.Printf("batch pipelining server starting on port %s", port)
	log.Printf("static files served from: %s", staticPath)
	log.Printf("http batch rpc endpoint: http://localhost%s/rpc", port)
	log.Println("sample data: session tokens cookie-123, cookie-456")

	if err := e.Start(port); err != nil {
		log.Fatal("failed to start server: ", err)
	}
}
