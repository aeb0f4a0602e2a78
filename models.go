package main

// --- Data Structures ---

type User struct {
	ID               int    `json:"user_id"`
	Username         string `json:"username"`
	Email            string `json:"email"`
	DisplayName      string `json:"display_name"`
	Bio              string `json:"bio"`
	AvatarURL        string `json:"avatar_url"`
	IsAdmin          bool   `json:"is_admin"`
	AccountStatus    string `json:"account_status"`
	SubscriptionTier string `json:"subscription_tier"`
	TotalListening   int    `json:"total_listening_time"`
	TotalSongsPlayed int    `json:"total_songs_played"`
	FollowersCount   int    `json:"followers_count"`
	FollowingCount   int    `json:"following_count"`
	CreatedAt        string `json:"created_at"`
	LastLoginAt      string `json:"last_login_at,omitempty"`
}

type Artist struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	Bio        string `json:"bio"`
	ImageURL   string `json:"image_url"`
	AlbumCount int    `json:"album_count"`
	TrackCount int    `json:"track_count"`
}

type Album struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	ArtistID    int    `json:"artist_id"`
	Artist      string `json:"artist"`
	ReleaseYear int    `json:"release_year"`
	CoverArtURL string `json:"cover_art_url"`
	TrackCount  int    `json:"track_count"`
}

// AudioFeatures are the analysed descriptors stored per track, 0..1 unless noted.
type AudioFeatures struct {
	Energy           float64 `json:"energy_level"`
	Valence          float64 `json:"valence"`
	Danceability     float64 `json:"danceability"`
	Instrumentalness float64 `json:"instrumentalness"`
	Acousticness     float64 `json:"acousticness"`
	Speechiness      float64 `json:"speechiness"`
	Loudness         float64 `json:"loudness"` // dB
	Tempo            float64 `json:"tempo"`    // BPM
	Key              string  `json:"key_signature"`
	TimeSignature    int     `json:"time_signature"`
}

type Track struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	ArtistID    int    `json:"artist_id"`
	Artist      string `json:"artist"`
	AlbumID     int    `json:"album_id,omitempty"`
	Album       string `json:"album"`
	TrackNumber int    `json:"track_number"`
	Genre       string `json:"genre"`
	Year        int    `json:"year"`
	Duration    int    `json:"duration"`
	Path        string `json:"-"`
	AudioFeatures
	Analyzed      bool    `json:"analyzed"`
	Mood          string  `json:"mood"`
	PlayCount     int     `json:"play_count"`
	SkipCount     int     `json:"skip_count"`
	LikeCount     int     `json:"like_count"`
	AverageRating float64 `json:"average_rating"`
	CreatedAt     string  `json:"created_at"`
}

// PlaylistSettings is stored as JSON on the playlist row.
type PlaylistSettings struct {
	AllowComments      bool   `json:"allow_comments"`
	AllowCollaborative bool   `json:"allow_collaborative"`
	SortOrder          string `json:"sort_order"`
}

type Playlist struct {
	ID            int              `json:"playlist_id"`
	UserID        int              `json:"user_id"`
	Creator       string           `json:"creator"`
	Name          string           `json:"name"`
	Description   string           `json:"description"`
	Visibility    string           `json:"visibility"`
	CoverImage    string           `json:"cover_image"`
	Tags          []string         `json:"tags"`
	Settings      PlaylistSettings `json:"settings"`
	TrackCount    int              `json:"track_count"`
	FollowerCount int              `json:"follower_count"`
	TotalDuration int              `json:"total_duration"`
	Role          string           `json:"role,omitempty"`
	CreatedAt     string           `json:"created_at"`
	UpdatedAt     string           `json:"updated_at"`
	Tracks        []PlaylistTrack  `json:"tracks,omitempty"`
}

type PlaylistTrack struct {
	Track
	Position int    `json:"position"`
	AddedAt  string `json:"added_at"`
	AddedBy  int    `json:"added_by,omitempty"`
}

type SmartPlaylist struct {
	ID          string  `json:"id"`
	UserID      int     `json:"user_id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Rules       RuleSet `json:"rules"`
	IsActive    bool    `json:"is_active"`
	TrackCount  int     `json:"track_count"`
	CreatedAt   string  `json:"created_at"`
	LastUpdated string  `json:"last_updated"`
	Tracks      []Track `json:"tracks,omitempty"`
}

type Mood struct {
	ID   int    `json:"mood_id"`
	Name string `json:"mood_name"`
}

type TrackMood struct {
	Mood
	Intensity float64 `json:"intensity"`
}

type Comment struct {
	ID                 int            `json:"id"`
	UserID             int            `json:"user_id"`
	Username           string         `json:"username"`
	TargetType         string         `json:"target_type"`
	TargetID           int            `json:"target_id"`
	Content            string         `json:"content"`
	TimestampReference *int           `json:"timestamp_reference,omitempty"`
	LikeCount          int            `json:"like_count"`
	ReplyCount         int            `json:"reply_count"`
	CreatedAt          string         `json:"created_at"`
	Replies            []CommentReply `json:"replies"`
}

type CommentReply struct {
	ID        int    `json:"id"`
	CommentID int    `json:"comment_id"`
	UserID    int    `json:"user_id"`
	Username  string `json:"username"`
	Content   string `json:"content"`
	LikeCount int    `json:"like_count"`
	CreatedAt string `json:"created_at"`
}

type Notification struct {
	ID        int                    `json:"id"`
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	IsRead    bool                   `json:"is_read"`
	CreatedAt string                 `json:"created_at"`
}

type DJMix struct {
	ID          int        `json:"id"`
	UserID      int        `json:"user_id"`
	Creator     string     `json:"creator"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Duration    int        `json:"duration"`
	BPMRange    string     `json:"bpm_range"`
	MixType     string     `json:"mix_type"`
	GenreTags   []string   `json:"genre_tags"`
	FilePath    string     `json:"file_path"`
	PlayCount   int        `json:"play_count"`
	LikeCount   int        `json:"like_count"`
	TrackCount  int        `json:"track_count"`
	CreatedAt   string     `json:"created_at"`
	UpdatedAt   string     `json:"updated_at"`
	Tracklist   []MixEntry `json:"tracklist,omitempty"`
}

type MixEntry struct {
	TrackID        int    `json:"track_id"`
	Title          string `json:"title,omitempty"`
	Artist         string `json:"artist,omitempty"`
	Position       int    `json:"position"`
	StartTime      int    `json:"start_time"`
	EndTime        int    `json:"end_time"`
	TransitionType string `json:"transition_type"`
	Notes          string `json:"notes"`
}

type CollaborationProject struct {
	ID                int            `json:"id"`
	Title             string         `json:"title"`
	CreatorID         int            `json:"creator_id"`
	Creator           string         `json:"creator"`
	ProjectType       string         `json:"project_type"`
	Status            string         `json:"status"`
	Deadline          string         `json:"deadline,omitempty"`
	Description       string         `json:"description"`
	SourceTrackID     int            `json:"source_track_id,omitempty"`
	ContributionCount int            `json:"contribution_count"`
	CreatedAt         string         `json:"created_at"`
	UpdatedAt         string         `json:"updated_at"`
	Contributions     []Contribution `json:"contributions,omitempty"`
}

type Contribution struct {
	ID               int    `json:"id"`
	ProjectID        int    `json:"project_id"`
	UserID           int    `json:"user_id"`
	Username         string `json:"username"`
	ContributionType string `json:"contribution_type"`
	FilePath         string `json:"file_path"`
	Notes            string `json:"notes"`
	Status           string `json:"status"`
	CreatedAt        string `json:"created_at"`
	ReviewedAt       string `json:"reviewed_at,omitempty"`
}

type Device struct {
	ID          int    `json:"id"`
	DeviceName  string `json:"device_name"`
	DeviceType  string `json:"device_type"`
	Platform    string `json:"platform"`
	DeviceToken string `json:"device_token"`
	IsActive    bool   `json:"is_active"`
	LastSeenAt  string `json:"last_seen_at"`
	CreatedAt   string `json:"created_at"`
}

type EmailSchedule struct {
	ID           int    `json:"id"`
	UserID       int    `json:"user_id"`
	EmailType    string `json:"email_type"`
	Frequency    string `json:"frequency"`
	NextSendDate string `json:"next_send_date"`
	LastSentAt   string `json:"last_sent_at,omitempty"`
	IsActive     bool   `json:"is_active"`
}

type LibraryPath struct {
	ID            int    `json:"id"`
	Path          string `json:"path"`
	TrackCount    int    `json:"track_count"`
	LastScanEnded string `json:"last_scan_ended"`
}

type ScanStatus struct {
	IsScanning     bool   `json:"is_scanning"`
	TracksAdded    int    `json:"tracks_added"`
	LastUpdateTime string `json:"last_update_time"`
}
