package youtube

import "time"

// Video is one upload of a channel.
type Video struct {
	ID          string
	Title       string
	PublishedAt time.Time
}

// URL returns the watch URL of the video.
func (v Video) URL() string {
	return WatchURL(v.ID)
}

// channelListResponse is the subset of a channels.list response we read.
type channelListResponse struct {
	Items []struct {
		ID string `json:"id"`
	} `json:"items"`
}

// videoListResponse is the subset of a videos.list response we read.
type videoListResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			ChannelID string `json:"channelId"`
		} `json:"snippet"`
	} `json:"items"`
}

// searchListResponse is the subset of a search.list response we read.
type searchListResponse struct {
	Items []struct {
		ID struct {
			Kind      string `json:"kind"`
			ChannelID string `json:"channelId"`
		} `json:"id"`
	} `json:"items"`
}

// playlistItemListResponse is the subset of a playlistItems.list response we read.
type playlistItemListResponse struct {
	NextPageToken string `json:"nextPageToken"`
	Items         []struct {
		Snippet struct {
			Title string `json:"title"`
		} `json:"snippet"`
		ContentDetails struct {
			VideoID          string `json:"videoId"`
			VideoPublishedAt string `json:"videoPublishedAt"`
		} `json:"contentDetails"`
	} `json:"items"`
}

// apiErrorResponse is the error envelope returned by the Data API.
type apiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Reason string `json:"reason"`
		} `json:"errors"`
	} `json:"error"`
}
