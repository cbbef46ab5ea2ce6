package db

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

// Article maps articles. The link is the sole natural key; re-ingesting the
// same link overwrites the row.
type Article struct {
	ID        int64      `gorm:"column:id;primaryKey;autoIncrement"`
	Title     string     `gorm:"column:title;type:text;not null"`
	Summary   *string    `gorm:"column:summary;type:text"`
	Link      string     `gorm:"column:link;type:text;not null;uniqueIndex:articles_link_key"`
	Published *time.Time `gorm:"column:published;type:timestamptz"`
	Updated   *time.Time `gorm:"column:updated;type:timestamptz"`
	Source    *string    `gorm:"column:source;type:text"`
	Language  *string    `gorm:"column:language;type:text"`
	OGImage   *string    `gorm:"column:og_image;type:text"`
	CreatedAt time.Time  `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt time.Time  `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Article) TableName() string { return "articles" }

// Tag maps tags. Created lazily on first use; removed only by compaction.
type Tag struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Name      string    `gorm:"column:name;type:text;not null;uniqueIndex:tags_name_key"`
	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (Tag) TableName() string { return "tags" }

// ArticleTag maps article_tags. Composite primary key makes re-adding a pair
// a no-op at the store level.
type ArticleTag struct {
	ArticleID int64     `gorm:"column:article_id;type:bigint;primaryKey"`
	TagID     int64     `gorm:"column:tag_id;type:bigint;primaryKey"`
	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (ArticleTag) TableName() string { return "article_tags" }

// ArticleEmbedding maps article_embeddings. One embedding per article,
// fixed 1536 dimensions.
type ArticleEmbedding struct {
	ArticleID int64           `gorm:"column:article_id;type:bigint;primaryKey"`
	Embedding pgvector.Vector `gorm:"column:embedding;type:vector(1536);not null"`
	UpdatedAt time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (ArticleEmbedding) TableName() string { return "article_embeddings" }

func autoMigrateModels() []any {
	return []any{
		&Article{},
		&Tag{},
		&ArticleTag{},
		&ArticleEmbedding{},
	}
}
