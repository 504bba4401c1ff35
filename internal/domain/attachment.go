package domain

import "time"

type (
	AttachmentId = int64
	FolderId     = int
	MessageId    = int64
	MemberId     = int64
	TopicId      = int64
)

// AttachmentKind distinguishes regular uploads from avatars and the
// derived thumbnail rows they may own.
type AttachmentKind int

const (
	KindStandard AttachmentKind = iota
	KindAvatar
	KindThumbnail
)

func (k AttachmentKind) String() string {
	switch k {
	case KindStandard:
		return "standard"
	case KindAvatar:
		return "avatar"
	case KindThumbnail:
		return "thumbnail"
	}
	return "unknown"
}

// AttachmentRecord is the persisted attachment entity. The physical file
// lives at <folder path>/<Id>_<ContentHash>.dat; the real format comes
// from MimeType, never from the on-disk extension.
type AttachmentRecord struct {
	Id            AttachmentId
	Kind          AttachmentKind
	FolderId      FolderId
	MessageId     MessageId // 0 while staged/unattached
	MemberId      MemberId  // set only for avatars
	ContentHash   string
	Filename      string
	ByteSize      int64
	MimeType      string
	Width         int // 0 if unknown or not an image
	Height        int
	Approved      bool
	DownloadCount int64
	ThumbnailId   AttachmentId // 0 = none
	CreatedAt     time.Time
}

// DiskName returns the physical filename for the record.
func (a *AttachmentRecord) DiskName() string {
	return diskName(a.Id, a.ContentHash)
}

// StagedUpload is the ephemeral record of a file that reached disk but
// has no database row yet.
type StagedUpload struct {
	Token        string
	TempPath     string
	DeclaredName string
	DeclaredMime string
	Size         int64
	FolderId     FolderId
	Width        int
	Height       int
	Errors       []error
}

// Failed reports whether any validation check recorded an error.
func (s *StagedUpload) Failed() bool { return len(s.Errors) > 0 }

// PostSlot associates staged files with a post before the post exists.
type PostSlot struct {
	MessageId MessageId
	TopicId   TopicId
	BoardId   int64
}

// UploadDirectory maps a folder id to one physical directory registered
// to receive attachment files.
type UploadDirectory struct {
	Id   FolderId
	Path string
}

// RotationPolicy determines when and how a new upload directory is
// created and selected as current.
type RotationPolicy int

const (
	RotateManualCounter RotationPolicy = iota
	RotatePerYear
	RotatePerYearMonth
	RotateRandom1
	RotateRandom2
)

func (p RotationPolicy) String() string {
	switch p {
	case RotatePerYear:
		return "year"
	case RotatePerYearMonth:
		return "year_month"
	case RotateRandom1:
		return "random"
	case RotateRandom2:
		return "random2"
	default:
		return "manual"
	}
}
