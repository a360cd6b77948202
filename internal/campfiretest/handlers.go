package campfiretest

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Message types written by the fake service itself.
const (
	textMessage  = "TextMessage"
	enterMessage = "EnterMessage"
	leaveMessage = "LeaveMessage"
)

const defaultMembershipLimit = 60

// AddRoom creates a room and returns its id.
func (s *Server) AddRoom(name, topic string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	room := &roomRecord{
		ID:         s.allocID(),
		Name:       name,
		Topic:      topic,
		GuestToken: uuid.NewString()[:5],
		Limit:      defaultMembershipLimit,
	}
	s.rooms[room.ID] = room
	s.roomOrder = append(s.roomOrder, room.ID)
	return room.ID
}

// SetGuestAccess opens or closes a room to guests.
func (s *Server) SetGuestAccess(roomID int64, open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if room, ok := s.rooms[roomID]; ok {
		room.OpenToGuests = open
	}
}

// SetMembershipLimit changes how many members a room holds before it reports full.
func (s *Server) SetMembershipLimit(roomID int64, limit int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if room, ok := s.rooms[roomID]; ok {
		room.Limit = limit
	}
}

// AddMember puts a user in a room without an enter message.
func (s *Server) AddMember(roomID, userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if room, ok := s.rooms[roomID]; ok {
		room.addMember(userID)
	}
}

// RoomTopic returns the server-side topic of a room.
func (s *Server) RoomTopic(roomID int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if room, ok := s.rooms[roomID]; ok {
		return room.Topic
	}
	return ""
}

// RoomName returns the server-side name of a room.
func (s *Server) RoomName(roomID int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if room, ok := s.rooms[roomID]; ok {
		return room.Name
	}
	return ""
}

// Locked reports whether a room is locked.
func (s *Server) Locked(roomID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if room, ok := s.rooms[roomID]; ok {
		return room.Locked
	}
	return false
}

// Members returns the ids of users currently in a room.
func (s *Server) Members(roomID int64) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if room, ok := s.rooms[roomID]; ok {
		return append([]int64(nil), room.members...)
	}
	return nil
}

// Post stores a message from userID and pushes it to live streams of the room.
func (s *Server) Post(roomID, userID int64, body, messageType string) (int64, error) {
	s.mu.Lock()
	room, ok := s.rooms[roomID]
	if !ok {
		s.mu.Unlock()
		return 0, fmt.Errorf("unknown room %d", roomID)
	}
	msg := s.appendMessageLocked(room, &userID, body, messageType)
	s.mu.Unlock()

	s.Publish(roomID, encodeJSON(messageJSON(msg)))
	return msg.ID, nil
}

func (r *roomRecord) addMember(userID int64) bool {
	for _, id := range r.members {
		if id == userID {
			return false
		}
	}
	r.members = append(r.members, userID)
	return true
}

func (r *roomRecord) removeMember(userID int64) bool {
	for i, id := range r.members {
		if id == userID {
			r.members = append(r.members[:i], r.members[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Server) appendMessageLocked(room *roomRecord, userID *int64, body, messageType string) message {
	msg := message{
		ID:        s.allocID(),
		Body:      body,
		Type:      messageType,
		RoomID:    room.ID,
		UserID:    userID,
		CreatedAt: s.now(),
	}
	room.messages = append(room.messages, msg)
	return msg
}

func userJSON(account Account, includeToken bool) gin.H {
	user := gin.H{
		"id":            account.ID,
		"name":          account.Name,
		"email_address": account.Email,
		"admin":         account.Admin,
		"created_at":    account.CreatedAt.Format(TimeLayout),
		"type":          "Member",
		"avatar_url":    "https://example.com/avatars/" + strconv.FormatInt(account.ID, 10) + ".png",
	}
	if includeToken {
		user["api_auth_token"] = account.Token
	}
	return user
}

func messageJSON(msg message) gin.H {
	var userID any
	if msg.UserID != nil {
		userID = *msg.UserID
	}
	return gin.H{
		"id":         msg.ID,
		"body":       msg.Body,
		"type":       msg.Type,
		"room_id":    msg.RoomID,
		"user_id":    userID,
		"created_at": msg.CreatedAt.Format(TimeLayout),
		"starred":    msg.Starred,
	}
}

func messagesJSON(messages []message) []gin.H {
	out := make([]gin.H, 0, len(messages))
	for _, msg := range messages {
		out = append(out, messageJSON(msg))
	}
	return out
}

func (s *Server) uploadJSON(c *gin.Context, u upload) gin.H {
	return gin.H{
		"id":           u.ID,
		"name":         u.Name,
		"byte_size":    u.ByteSize,
		"content_type": u.ContentType,
		"full_url":     fmt.Sprintf("%s/room/%d/uploads/%s/%s", baseURL(c), u.RoomID, u.Key, u.Name),
		"room_id":      u.RoomID,
		"user_id":      u.UserID,
		"created_at":   u.CreatedAt.Format(TimeLayout),
	}
}

func baseURL(c *gin.Context) string {
	return "http://" + c.Request.Host
}

func roomSummaryJSON(room *roomRecord) gin.H {
	return gin.H{
		"id":               room.ID,
		"name":             room.Name,
		"topic":            room.Topic,
		"membership_limit": room.Limit,
	}
}

func (s *Server) roomJSONLocked(room *roomRecord) gin.H {
	users := make([]gin.H, 0, len(room.members))
	for _, id := range room.members {
		if account, ok := s.accounts[id]; ok {
			users = append(users, userJSON(*account, false))
		}
	}
	return gin.H{
		"id":                 room.ID,
		"name":               room.Name,
		"topic":              room.Topic,
		"full":               len(room.members) >= room.Limit,
		"open_to_guests":     room.OpenToGuests,
		"active_token_value": room.GuestToken,
		"membership_limit":   room.Limit,
		"locked":             room.Locked,
		"users":              users,
	}
}

// GET /users/:id where id is "me.json" or "<n>.json"
func (s *Server) getUser(c *gin.Context) {
	param := strings.TrimSuffix(c.Param("id"), ".json")
	if param == "me" {
		c.JSON(http.StatusOK, gin.H{"user": userJSON(currentAccount(c), true)})
		return
	}
	id, err := strconv.ParseInt(param, 10, 64)
	if err != nil {
		c.Status(http.StatusNotFound)
		return
	}

	s.mu.Lock()
	account, ok := s.accounts[id]
	var found Account
	if ok {
		found = *account
	}
	s.mu.Unlock()
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": userJSON(found, false)})
}

// GET /rooms.json
func (s *Server) listRooms(c *gin.Context) {
	s.mu.Lock()
	rooms := make([]gin.H, 0, len(s.roomOrder))
	for _, id := range s.roomOrder {
		rooms = append(rooms, roomSummaryJSON(s.rooms[id]))
	}
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

// GET /presence.json
func (s *Server) presence(c *gin.Context) {
	account := currentAccount(c)
	s.mu.Lock()
	rooms := make([]gin.H, 0)
	for _, id := range s.roomOrder {
		room := s.rooms[id]
		for _, member := range room.members {
			if member == account.ID {
				rooms = append(rooms, roomSummaryJSON(room))
				break
			}
		}
	}
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

// GET /search/*term
func (s *Server) search(c *gin.Context) {
	term := strings.ToLower(strings.TrimSuffix(strings.TrimPrefix(c.Param("term"), "/"), ".json"))

	s.mu.Lock()
	var found []message
	for _, id := range s.roomOrder {
		for _, msg := range s.rooms[id].messages {
			if term != "" && strings.Contains(strings.ToLower(msg.Body), term) {
				found = append(found, msg)
			}
		}
	}
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"messages": messagesJSON(found)})
}

// roomRequest splits "/12.json" or "/12/speak.json" into the room and the action path.
func (s *Server) roomRequest(c *gin.Context) (*roomRecord, string, bool) {
	path := strings.TrimPrefix(c.Param("path"), "/")
	idPart, action, _ := strings.Cut(path, "/")
	idPart = strings.TrimSuffix(idPart, ".json")
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		c.Status(http.StatusNotFound)
		return nil, "", false
	}
	s.mu.Lock()
	room, ok := s.rooms[id]
	s.mu.Unlock()
	if !ok {
		c.Status(http.StatusNotFound)
		return nil, "", false
	}
	return room, action, true
}

func (s *Server) roomGet(c *gin.Context) {
	room, action, ok := s.roomRequest(c)
	if !ok {
		return
	}
	switch {
	case action == "":
		s.mu.Lock()
		body := gin.H{"room": s.roomJSONLocked(room)}
		s.mu.Unlock()
		c.JSON(http.StatusOK, body)
	case action == "recent.json":
		s.recent(c, room)
	case action == "uploads.json":
		s.listUploads(c, room)
	case strings.HasPrefix(action, "transcript/"):
		s.transcript(c, room, strings.TrimPrefix(action, "transcript/"))
	default:
		c.Status(http.StatusNotFound)
	}
}

func (s *Server) roomPut(c *gin.Context) {
	room, action, ok := s.roomRequest(c)
	if !ok {
		return
	}
	if action != "" {
		c.Status(http.StatusNotFound)
		return
	}

	var req struct {
		Room struct {
			Name  *string `json:"name"`
			Topic *string `json:"topic"`
		} `json:"room"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid request body"})
		return
	}

	s.mu.Lock()
	if req.Room.Name != nil {
		room.Name = *req.Room.Name
	}
	if req.Room.Topic != nil {
		room.Topic = *req.Room.Topic
	}
	s.mu.Unlock()
	c.Status(http.StatusOK)
}

func (s *Server) roomPost(c *gin.Context) {
	room, action, ok := s.roomRequest(c)
	if !ok {
		return
	}
	account := currentAccount(c)

	switch action {
	case "join.xml":
		s.mu.Lock()
		var enter *message
		if room.addMember(account.ID) {
			msg := s.appendMessageLocked(room, &account.ID, "", enterMessage)
			enter = &msg
		}
		s.mu.Unlock()
		if enter != nil {
			s.Publish(room.ID, encodeJSON(messageJSON(*enter)))
		}
		c.Status(http.StatusOK)
	case "leave.xml":
		s.mu.Lock()
		if room.removeMember(account.ID) {
			s.appendMessageLocked(room, &account.ID, "", leaveMessage)
		}
		s.mu.Unlock()
		c.Status(http.StatusOK)
	case "lock.xml", "unlock.xml":
		s.mu.Lock()
		room.Locked = action == "lock.xml"
		s.mu.Unlock()
		c.Status(http.StatusOK)
	case "speak.json":
		s.speak(c, room, account)
	case "uploads.json":
		s.createUpload(c, room, account)
	default:
		c.Status(http.StatusNotFound)
	}
}

func (s *Server) speak(c *gin.Context, room *roomRecord, account Account) {
	var req struct {
		Message struct {
			Body string `json:"body" binding:"required"`
			Type string `json:"type"`
		} `json:"message"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid request body"})
		return
	}
	messageType := req.Message.Type
	if messageType == "" {
		messageType = textMessage
	}

	s.mu.Lock()
	msg := s.appendMessageLocked(room, &account.ID, req.Message.Body, messageType)
	s.mu.Unlock()

	payload := messageJSON(msg)
	s.Publish(room.ID, encodeJSON(payload))
	c.JSON(http.StatusCreated, gin.H{"message": payload})
}

// GET /room/:id/transcript/yyyy/mm/dd.json
func (s *Server) transcript(c *gin.Context, room *roomRecord, date string) {
	day, err := time.Parse("2006/01/02", strings.TrimSuffix(date, ".json"))
	if err != nil {
		c.Status(http.StatusNotFound)
		return
	}

	s.mu.Lock()
	var found []message
	for _, msg := range room.messages {
		y, m, d := msg.CreatedAt.UTC().Date()
		if y == day.Year() && m == day.Month() && d == day.Day() {
			found = append(found, msg)
		}
	}
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"messages": messagesJSON(found)})
}

// GET /room/:id/recent.json?limit=&since_message_id=
func (s *Server) recent(c *gin.Context, room *roomRecord) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		limit = 100
	}
	since, _ := strconv.ParseInt(c.Query("since_message_id"), 10, 64)

	s.mu.Lock()
	var found []message
	for _, msg := range room.messages {
		if msg.ID > since {
			found = append(found, msg)
		}
	}
	s.mu.Unlock()
	// Without a starting point the newest messages win; with one, the page
	// continues right after it.
	if len(found) > limit {
		if since > 0 {
			found = found[:limit]
		} else {
			found = found[len(found)-limit:]
		}
	}
	c.JSON(http.StatusOK, gin.H{"messages": messagesJSON(found)})
}

// GET /room/:id/uploads.json lists newest first.
func (s *Server) listUploads(c *gin.Context, room *roomRecord) {
	s.mu.Lock()
	uploads := append([]upload(nil), room.uploads...)
	s.mu.Unlock()
	sort.SliceStable(uploads, func(i, j int) bool { return uploads[i].ID > uploads[j].ID })

	out := make([]gin.H, 0, len(uploads))
	for _, u := range uploads {
		out = append(out, s.uploadJSON(c, u))
	}
	c.JSON(http.StatusOK, gin.H{"uploads": out})
}

// POST /room/:id/uploads.json with multipart field "upload"
func (s *Server) createUpload(c *gin.Context, room *roomRecord, account Account) {
	header, err := c.FormFile("upload")
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "missing upload"})
		return
	}
	file, err := header.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read upload"})
		return
	}
	defer file.Close()
	size, err := io.Copy(io.Discard, file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read upload"})
		return
	}

	s.mu.Lock()
	u := upload{
		ID:          s.allocID(),
		Key:         uuid.NewString(),
		Name:        header.Filename,
		ByteSize:    size,
		ContentType: header.Header.Get("Content-Type"),
		RoomID:      room.ID,
		UserID:      account.ID,
		CreatedAt:   s.now(),
	}
	room.uploads = append(room.uploads, u)
	s.appendMessageLocked(room, &account.ID, header.Filename, "UploadMessage")
	s.mu.Unlock()

	c.JSON(http.StatusCreated, gin.H{"upload": s.uploadJSON(c, u)})
}
