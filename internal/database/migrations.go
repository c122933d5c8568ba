package database

const schema = `
CREATE TABLE IF NOT EXISTS images (
    name TEXT PRIMARY KEY,
    content_type TEXT NOT NULL,
    size INTEGER NOT NULL DEFAULT 0,
    uploaded TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_images_uploaded ON images (uploaded, name);
`
