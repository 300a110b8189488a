package bridge

import (
	"time"

	"github.com/teledash/teledash/internal/platform"
)

type chatDTO struct {
	ID           int64  `json:"id"`
	Type         string `json:"type"`
	Title        string `json:"title"`
	Username     string `json:"username"`
	IsVerified   bool   `json:"is_verified"`
	IsRestricted bool   `json:"is_restricted"`
	IsScam       bool   `json:"is_scam"`
	IsFake       bool   `json:"is_fake"`
	Description  string `json:"description"`
	InviteLink   string `json:"invite_link"`
	MembersCount *int64 `json:"members_count"`
}

func (d chatDTO) info() platform.ChatInfo {
	return platform.ChatInfo{
		ID:           d.ID,
		Type:         d.Type,
		Title:        d.Title,
		Username:     d.Username,
		IsVerified:   d.IsVerified,
		IsRestricted: d.IsRestricted,
		IsScam:       d.IsScam,
		IsFake:       d.IsFake,
		Description:  d.Description,
		InviteLink:   d.InviteLink,
		MembersCount: d.MembersCount,
	}
}

type userDTO struct {
	ID         int64  `json:"id"`
	Username   string `json:"username"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	IsBot      bool   `json:"is_bot"`
	IsVerified bool   `json:"is_verified"`
	IsScam     bool   `json:"is_scam"`
	IsFake     bool   `json:"is_fake"`
}

func (d userDTO) info() platform.UserInfo {
	return platform.UserInfo{
		ID:         d.ID,
		Username:   d.Username,
		FirstName:  d.FirstName,
		LastName:   d.LastName,
		IsBot:      d.IsBot,
		IsVerified: d.IsVerified,
		IsScam:     d.IsScam,
		IsFake:     d.IsFake,
	}
}

type thumbDTO struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id"`
	Size         int64  `json:"size"`
}

type mediaDTO struct {
	Type         string     `json:"type"`
	FileID       string     `json:"file_id"`
	FileUniqueID string     `json:"file_unique_id"`
	MimeType     string     `json:"mime_type"`
	Thumbs       []thumbDTO `json:"thumbs"`
}

type messageDTO struct {
	Ordinal  int64     `json:"id"`
	Date     time.Time `json:"date"`
	Text     string    `json:"text"`
	Caption  string    `json:"caption"`
	Views    *int64    `json:"views"`
	FromUser *userDTO  `json:"from_user"`
	Media    *mediaDTO `json:"media"`
}

func (d messageDTO) info() platform.MessageInfo {
	info := platform.MessageInfo{
		Ordinal: d.Ordinal,
		Date:    d.Date,
		Text:    d.Text,
		Caption: d.Caption,
		Views:   d.Views,
	}
	if d.FromUser != nil {
		user := d.FromUser.info()
		info.FromUser = &user
	}
	if d.Media != nil {
		media := platform.MediaInfo{
			Type:         d.Media.Type,
			FileID:       d.Media.FileID,
			FileUniqueID: d.Media.FileUniqueID,
			MimeType:     d.Media.MimeType,
		}
		for _, t := range d.Media.Thumbs {
			media.Thumbs = append(media.Thumbs, platform.ThumbInfo{
				FileID:       t.FileID,
				FileUniqueID: t.FileUniqueID,
				Size:         t.Size,
			})
		}
		info.Media = &media
	}
	return info
}
